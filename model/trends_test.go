package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trendview/go-trendview/apierror"
	"github.com/trendview/go-trendview/model"
)

func TestUnmarshalResponse(t *testing.T) {
	rsp, items, err := model.UnmarshalResponse([]byte(`{"success":true,"data":[{"title":"go 1.21","rank":1}],"status":"cached"}`))
	require.NoError(t, err)
	require.Equal(t, "cached", rsp.Status)
	require.Len(t, items, 1)
	require.Equal(t, "go 1.21", items[0].Title)

	// Empty data array is valid and distinct from missing data.
	_, items, err = model.UnmarshalResponse([]byte(`{"success":true,"data":[]}`))
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestUnmarshalResponseMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `<html>busy</html>`,
		"missing data":   `{"success":true}`,
		"null data":      `{"success":true,"data":null}`,
		"non-array data": `{"success":true,"data":{"title":"x"}}`,
		"success false":  `{"success":false,"error":"manager not initialized"}`,
	} {
		_, _, err := model.UnmarshalResponse([]byte(body))
		require.Error(t, err, name)
		var apiErr *apierror.Error
		require.True(t, errors.As(err, &apiErr), name)
		require.Equal(t, apierror.KindMalformed, apiErr.Kind(), name)
	}

	_, _, err := model.UnmarshalResponse([]byte(`{"success":false,"error":"manager not initialized"}`))
	require.ErrorContains(t, err, "manager not initialized")
}

func TestLoadStatus(t *testing.T) {
	require.Equal(t, "success", model.StatusSuccess.String())
	require.Equal(t, "timeout", model.StatusTimeout.String())
	require.False(t, model.StatusEmpty.Failed())
	require.True(t, model.StatusError.Failed())
	require.True(t, model.StatusTimeout.Failed())
}

func TestLoadResultErrKind(t *testing.T) {
	var r model.LoadResult
	require.Equal(t, apierror.KindUnknown, r.ErrKind())

	r.Err = apierror.New(apierror.KindServer, nil)
	require.Equal(t, apierror.KindServer, r.ErrKind())
}
