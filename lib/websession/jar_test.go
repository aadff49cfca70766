package websession

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSplitFoldedHeader(t *testing.T) {
	testCases := []struct {
		name     string
		header   string
		expected []string
	}{
		{
			name:     "single cookie",
			header:   "ASP.NET_SessionId=abc123; Path=/; HttpOnly",
			expected: []string{"ASP.NET_SessionId=abc123; Path=/; HttpOnly"},
		},
		{
			name:   "folded with expires date comma",
			header: "token=xyz; Expires=Mon, 02-Jan-2006 15:04:05 GMT; Path=/, ASP.NET_SessionId=abc123; Path=/",
			expected: []string{
				"token=xyz; Expires=Mon, 02-Jan-2006 15:04:05 GMT; Path=/",
				"ASP.NET_SessionId=abc123; Path=/",
			},
		},
		{
			name:   "three folded cookies",
			header: "a=1, b=2; HttpOnly, c=3",
			expected: []string{
				"a=1",
				"b=2; HttpOnly",
				"c=3",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitFoldedHeader(tc.header)
			if diff := cmp.Diff(tc.expected, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestJarLastWriteWins(t *testing.T) {
	jar := NewJar()

	header := http.Header{}
	header.Add("Set-Cookie", "ASP.NET_SessionId=first; Path=/")
	header.Add("Set-Cookie", "ASP.NET_SessionId=second; Path=/; HttpOnly")
	jar.UpdateFromHeader(header)

	value, ok := jar.Get("ASP.NET_SessionId")
	require.True(t, ok)
	require.Equal(t, "second", value)
	require.Equal(t, 1, jar.Len())
}

func TestJarValueContainingEquals(t *testing.T) {
	jar := NewJar()

	header := http.Header{}
	header.Add("Set-Cookie", "token=YWJjPT0=extra==; Path=/")
	jar.UpdateFromHeader(header)

	value, ok := jar.Get("token")
	require.True(t, ok)
	require.Equal(t, "YWJjPT0=extra==", value)
}

func TestJarIgnoresMalformed(t *testing.T) {
	jar := NewJar()

	header := http.Header{}
	header.Add("Set-Cookie", "")
	header.Add("Set-Cookie", "no-equals-sign")
	jar.UpdateFromHeader(header)

	require.Equal(t, 0, jar.Len())
}

func TestJarHeaderDeterministic(t *testing.T) {
	jar := NewJar()
	jar.Set("zeta", "2")
	jar.Set("alpha", "1")
	jar.Set("mid", "3")

	require.Equal(t, "alpha=1; mid=3; zeta=2", jar.Header())
}

func TestJarImportAndReset(t *testing.T) {
	jar := NewJar()
	jar.Set("existing", "old")
	jar.Import(map[string]string{
		"existing": "new",
		"imported": "1",
	})

	expected := map[string]string{
		"existing": "new",
		"imported": "1",
	}
	if diff := cmp.Diff(expected, jar.Export()); diff != "" {
		t.Fatal(diff)
	}

	jar.Reset()
	require.Equal(t, 0, jar.Len())
	require.Equal(t, "", jar.Header())
}
