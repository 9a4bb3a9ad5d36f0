package workers

import (
	"context"
	"fmt"
)

// Echo returns a worker that answers with its prompt, tagged with the role. It lets
// orchestrations run end to end without a model endpoint.
func Echo(role string) Worker {
	return WorkerFunc(func(ctx context.Context, prompt string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		return fmt.Sprintf("[%s] %s", role, prompt), nil
	})
}
