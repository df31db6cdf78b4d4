package message

import "strings"

// NewResponse creates a response to the given request per RFC 3261
// section 8.2.6: Via, From, Call-ID and CSeq are copied verbatim, To is
// copied and may be tagged by the caller through ToTag.
func NewResponse(req *Request, statusCode int, reasonPhrase string) *Response {
	if reasonPhrase == "" {
		reasonPhrase = DefaultReasonPhrase(statusCode)
	}

	resp := &Response{
		StatusCode:   statusCode,
		ReasonPhrase: reasonPhrase,
		Headers:      NewHeaders(),
	}

	for _, via := range req.GetHeaders("Via") {
		resp.AddHeader("Via", via)
	}
	for _, name := range []string{"From", "To", "Call-ID", "CSeq"} {
		if value := req.GetHeader(name); value != "" {
			resp.SetHeader(name, value)
		}
	}

	return resp
}

// SetToTag appends a tag parameter to the To header unless one is
// already present.
func (r *Response) SetToTag(tag string) {
	to := r.GetHeader("To")
	if to == "" || strings.Contains(to, ";tag=") {
		return
	}
	r.SetHeader("To", to+";tag="+tag)
}
