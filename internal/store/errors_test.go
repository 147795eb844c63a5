package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestConcurrentUpdateTagsLockRaceAborts(t *testing.T) {
	for _, code := range []string{deadlockDetected, serializationFailure} {
		cause := fmt.Errorf("failed to lock listing items: %w", &pq.Error{Code: pq.ErrorCode(code)})
		err := concurrentUpdate(cause)
		assert.ErrorIs(t, err, ErrConcurrentUpdate, code)
		assert.ErrorIs(t, err, cause, code)
	}

	unique := &pq.Error{Code: uniqueViolation}
	assert.Same(t, unique, concurrentUpdate(unique))

	plain := errors.New("boom")
	assert.Equal(t, plain, concurrentUpdate(plain))
}
