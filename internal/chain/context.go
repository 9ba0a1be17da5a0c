package chain

import (
	"github.com/dunamismax/pixelgate/internal/domain"
)

// RequestContext carries one request through the handler chain. It is
// created per request and never shared.
type RequestContext struct {
	RequestID string
	Token     string
	Endpoint  string
	// Params is domain.Params for single-operation endpoints and
	// domain.Pipeline for the pipeline endpoint.
	Params any

	identity *domain.Identity
}

func NewRequestContext(requestID, endpoint, token string, params any) *RequestContext {
	return &RequestContext{
		RequestID: requestID,
		Token:     token,
		Endpoint:  endpoint,
		Params:    params,
	}
}

// AttachIdentity sets the authenticated identity. It may be called once.
func (rc *RequestContext) AttachIdentity(id domain.Identity) error {
	if rc.identity != nil {
		return domain.ErrIdentityAttached
	}
	rc.identity = &id
	return nil
}

func (rc *RequestContext) Identity() (domain.Identity, bool) {
	if rc.identity == nil {
		return domain.Identity{}, false
	}
	return *rc.identity, true
}
