package bancaweb

import (
	"go.opentelemetry.io/otel"

	"bankfeed-backend/lib/restyutil"
)

var tracer = otel.Tracer("bankfeed.scrapers.bancaweb")

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput enables full request/response transcript
// dumps on every client constructed afterwards. Useful when a portal
// release breaks the flow and the raw exchange is the only evidence.
func SetRestyInstrumentOutput(output restyutil.InstrumentOutput) {
	restyInstrumentOutput = output
}
