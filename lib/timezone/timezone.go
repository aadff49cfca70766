package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Caracas")
	if err != nil {
		panic(err)
	}
}

// force timezone to be Caracas because the portal renders value dates
// in bank-local time and our servers may end up anywhere, which skews
// dates manipulated through <time.Time>.Year()/Month()/Day()/Hour()/...
func Now() time.Time {
	return time.Now().In(Location)
}
