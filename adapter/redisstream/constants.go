package redisstream

// Field constants (avoid typos/allocs). They match xevent.Record.Fields.
const (
	fieldID         = "id"
	fieldKind       = "kind"
	fieldSerial     = "serial"
	fieldEvent      = "event"
	fieldPayload    = "payload" // raw []byte to reduce allocs (no base64)
	fieldCodec      = "codec"
	fieldSubscriber = "subscriber"
	fieldMethod     = "method"
	fieldError      = "error"
	fieldPostedAt   = "postedAt"
	fieldRecordedAt = "recordedAt"
)
