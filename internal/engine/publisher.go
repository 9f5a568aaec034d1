package engine

import (
	"context"

	"github.com/lendr/loanflow/internal/invoker"
	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

// publisher delivers milestone events to the external sink through the same
// retrying invoker that guards collaborator calls. Delivery is best effort:
// the caller logs failures instead of propagating them.
type publisher struct {
	inv  *invoker.Invoker
	sink loan.EventSink
}

func newPublisher(inv *invoker.Invoker, sink loan.EventSink) *publisher {
	return &publisher{inv: inv, sink: sink}
}

func (p *publisher) Publish(ctx context.Context, workflowID string, stage api.Stage, payload any) error {
	if p.sink == nil {
		return nil
	}
	_, err := p.inv.Invoke(ctx, "publish-event", func(c context.Context) (any, error) {
		return nil, p.sink.PublishEvent(c, workflowID, string(stage), payload)
	})
	return err
}
