package actionstream

import (
	"context"
	"encoding/json"
	"io"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// Alert is one entry of the `sc?c=50` user-alerts feed (§6.1), a
// supplemented feature invoked once per fresh login and on `la` packet
// receipt.
type Alert struct {
	ID   int             `json:"i"`
	Type string          `json:"t"`
	Ts   int64           `json:"ts"`
	Seen bool            `json:"seen"`
	Data json.RawMessage `json:"-"`
}

// FetchAlerts issues `sc?c=50` and returns the most recent alerts.
func FetchAlerts(ctx context.Context, apiURL string, auth func() string, httpIO core.HttpIO) ([]Alert, error) {
	const op = "actionstream.FetchAlerts"
	reqURL := apiURL + "sc?c=50" + auth()
	resp, status, err := httpIO.Post(ctx, reqURL, nil)
	if err != nil {
		return nil, errors.E(op, errors.Transport, err)
	}
	defer resp.Close()
	if status != 200 {
		return nil, errors.E(op, errors.Transport, errors.Str("non-200 response"))
	}
	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, errors.E(op, errors.Transport, err)
	}
	var alerts []Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, errors.E(op, errors.Syntax, err)
	}
	return alerts, nil
}
