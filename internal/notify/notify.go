package notify

import (
	"context"
	"encoding/json"
	"time"

	"mercaro.shop/internal/identity"
	"mercaro.shop/internal/obs"
)

// LogDeliverer writes OTP codes to the structured log instead of sending
// them. It stands in for the real notification collaborator in development
// and tests; production wiring swaps in a mail or SMS sender behind the
// same identity.Deliverer contract.
type LogDeliverer struct{}

var _ identity.Deliverer = LogDeliverer{}

func (LogDeliverer) Deliver(ctx context.Context, id *identity.Identity, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "notify",
		"event": "otp.delivered",
		"fields": map[string]any{
			"identity_id": id.ID,
			"class":       string(id.Class),
			"code":        code,
		},
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
