package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-allocation/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodePublishFailed)
	if e.Error() != berr.ErrCodePublishFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrConfiguration, berr.ErrCodeConfiguration},
		{berr.ErrRegistrySealed, berr.ErrCodeRegistrySealed},
		{berr.ErrHandlerNotFound, berr.ErrCodeHandlerNotFound},
		{berr.ErrCommandHandler, berr.ErrCodeCommandHandler},
		{berr.ErrEventHandler, berr.ErrCodeEventHandler},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrDeserialization, berr.ErrCodeDeserialization},
		{berr.ErrNoMessage, berr.ErrCodeNoMessage},
		{berr.ErrTransport, berr.ErrCodeTransport},
		{berr.ErrSubscribeFailed, berr.ErrCodeSubscribeFailed},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestCodesSurviveWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("redis publish: %w", errors.Join(berr.ErrPublishFailed, cause))

	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed in %v", err)
	}

	if !errors.Is(err, cause) {
		t.Fatalf("want cause in %v", err)
	}

	if errors.Is(err, berr.ErrTransport) {
		t.Fatalf("unexpected ErrTransport in %v", err)
	}
}
