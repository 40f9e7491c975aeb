package push

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/erauner12/datasync/internal/client"
)

func asConflict(err error, target **client.Conflict) bool {
	return errors.As(err, target)
}

func asHTTPStatus(err error, target **client.HTTPStatusError) bool {
	return errors.As(err, target)
}

func marshalConflictBody(c *client.Conflict) []byte {
	if c.Current == nil {
		return nil
	}
	data, err := json.Marshal(c.Current)
	if err != nil {
		return nil
	}
	return data
}

func now() time.Time { return time.Now() }
