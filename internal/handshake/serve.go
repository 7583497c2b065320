package handshake

// Answer builds the responder side of a handshake. A malformed request
// or a request with no mutual protocol is declined rather than errored;
// the requester learns why from the reason field.
func Answer(from string, req *Request, opts Options) *Response {
	opts, err := opts.withDefaults()
	if err != nil {
		return declined(from, req, "invalid_responder_options")
	}

	resp := &Response{
		Kind:         "handshake_response",
		From:         from,
		Capabilities: opts.Capabilities,
	}
	if req != nil {
		resp.RequestID = req.ID
	}
	if err := ValidateRequest(req); err != nil {
		resp.Reason = "invalid_request"
		return resp
	}
	resp.Timestamp = req.Timestamp

	protocol, ok := pickMutual(opts.SupportedProtocols, req.SupportedProtocols)
	if !ok {
		resp.Reason = "no_mutual_protocol"
		resp.SupportedProtocols = opts.SupportedProtocols
		return resp
	}
	resp.Protocol = protocol

	var missing []string
	for _, cap := range opts.RequiredCapabilities {
		found := false
		for _, c := range req.Capabilities {
			if c == cap {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		resp.Reason = "missing_capabilities"
		return resp
	}

	resp.Accepted = true
	return resp
}

func declined(from string, req *Request, reason string) *Response {
	resp := &Response{Kind: "handshake_response", From: from, Reason: reason}
	if req != nil {
		resp.RequestID = req.ID
	}
	return resp
}

func pickMutual(supported, peer []string) (string, bool) {
	var mutual []string
	for _, p := range supported {
		for _, q := range peer {
			if p == q {
				mutual = append(mutual, p)
				break
			}
		}
	}
	if len(mutual) == 0 {
		return "", false
	}
	best := mutual[0]
	for _, p := range mutual[1:] {
		if compareProtocols(p, best) > 0 {
			best = p
		}
	}
	return best, true
}
