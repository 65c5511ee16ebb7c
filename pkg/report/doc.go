// Package report builds bounded ReportData messages.
//
// A Builder owns an arena of CBOR items encoded ahead of time and a byte
// budget taken from the transport's maximum payload. The envelope overhead
// is reserved up front, so Build never exceeds the budget. Adding an item
// that does not fit returns ErrBufferExhausted and leaves the builder
// unchanged; callers take a Checkpoint before a multi-item step and Rollback
// when the step cannot complete.
//
// # Attribute Encoding
//
// The data model writes an attribute value through an AttributeEncoder.
// Encode emits a scalar or struct value atomically: it either fits whole or
// the caller retries it in the next report. EncodeList emits a list value
// whole when it fits; otherwise it emits an empty list followed by one
// append item per element and records where to resume once the report is
// full.
//
//	enc := report.NewAttributeEncoder(b, p, version, report.ListResume{})
//	err := enc.EncodeList(func(add func(any) error) error {
//	    for _, entry := range entries {
//	        if err := add(entry); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
package report
