package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
)

// notify publishes after a commit. The write already stands, so the request
// context's cancellation must not cut the fan-out short.
func notify(ctx context.Context, pub events.Publisher, payloads ...events.Payload) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range payloads {
		pub.Publish(ctx, p)
	}
}

// storeFailure logs err with its identifiers and returns a TransactionError whose
// message is safe to show to callers.
func storeFailure(log zerolog.Logger, op, message string, err error, fields map[string]interface{}) error {
	log.Error().Stack().Err(err).Str("op", op).Fields(fields).Msg("store failure")
	return model.NewTransactionError(op, message, err)
}

// lookupFailure maps read-path store errors; missing rows become NotFoundError.
func lookupFailure(log zerolog.Logger, field, what string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return model.NewNotFoundError(field, what+" not found")
	}
	log.Error().Stack().Err(err).Str("field", field).Msg("store read failed")
	return errors.New("could not load " + what)
}
