package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairableIsSubsetOfRecoverable(t *testing.T) {
	for k := range repairable {
		assert.True(t, k.Recoverable(), "%s is repairable, so a retry can help", k)
	}
}

func TestRecoverableFlags(t *testing.T) {
	assert.True(t, KindGenerationFailed.Recoverable())
	assert.True(t, KindUnknownColumn.Recoverable())

	final := []Kind{
		KindRetrievalUnavailable, KindNoRelevantSchema, KindValidationFailFast,
		KindPermissionDenied, KindConnectionError, KindResourceExhausted,
		KindServerInternal, KindDeadlineExceeded, KindExecutionError,
	}
	for _, k := range final {
		assert.False(t, k.Recoverable(), string(k))
		assert.False(t, k.Repairable(), string(k))
	}
}

func TestErrorIncludesSQLState(t *testing.T) {
	f := &Fault{Kind: KindUnknownColumn, SQLState: "42703", Message: `column "total" does not exist`}
	assert.Equal(t, `unknown_column [42703]: column "total" does not exist`, f.Error())
	assert.Equal(t, "generation_failed: all drafts failed",
		New(KindGenerationFailed, "all drafts failed").Error())
}
