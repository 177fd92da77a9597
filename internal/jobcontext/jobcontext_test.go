// Copyright 2025 James Ross
package jobcontext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresRootJobID(t *testing.T) {
	err := Validate(Context{OperationType: OperationData})
	require.Error(t, err)
}

func TestValidateRejectsUnknownOperationType(t *testing.T) {
	err := Validate(Context{RootJobID: "job_1", OperationType: "bogus"})
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedContext(t *testing.T) {
	err := Validate(Context{RootJobID: "job_1", OperationType: OperationFile})
	require.NoError(t, err)
}
