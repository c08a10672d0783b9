package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateHTTPErrorHints(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantDetail string
	}{
		{
			name:       "context too long",
			status:     400,
			body:       `{"error":{"message":"Input length 210000 exceeds the maximum length","code":"invalid_request"}}`,
			wantErr:    "Input length 210000 exceeds the maximum length",
			wantDetail: DetailContextTooLong,
		},
		{
			name:       "invalid parameter",
			status:     400,
			body:       `{"error":{"message":"temperature out of range","code":"InvalidParameter"}}`,
			wantErr:    "temperature out of range",
			wantDetail: DetailInvalidParameter,
		},
		{
			name:       "bad request",
			status:     400,
			body:       `{"error":{"message":"malformed body","type":"BadRequest"}}`,
			wantErr:    "malformed body",
			wantDetail: DetailBadRequest,
		},
		{
			name:       "no recognized hint",
			status:     429,
			body:       `{"error":{"message":"rate limited"}}`,
			wantErr:    "rate limited",
			wantDetail: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := TranslateHTTPError(tc.status, []byte(tc.body))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.wantErr, apiErr.Err)
			assert.Equal(t, tc.wantDetail, apiErr.Detail)
		})
	}
}

func TestTranslateHTTPErrorStringError(t *testing.T) {
	apiErr := TranslateHTTPError(401, []byte(`{"error":"invalid api key"}`))
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, "invalid api key", apiErr.Err)
	assert.Empty(t, apiErr.Detail)
}

func TestTranslateHTTPErrorNonJSONBody(t *testing.T) {
	apiErr := TranslateHTTPError(502, []byte("upstream gateway timeout\n"))
	assert.Equal(t, 502, apiErr.StatusCode)
	assert.Equal(t, "upstream gateway timeout", apiErr.Err)
	assert.Empty(t, apiErr.Detail)
}

func TestClientAPIErrorMessage(t *testing.T) {
	withDetail := &ClientAPIError{StatusCode: 400, Err: "boom", Detail: DetailBadRequest}
	assert.Contains(t, withDetail.Error(), "status 400")
	assert.Contains(t, withDetail.Error(), DetailBadRequest)

	withoutDetail := &ClientAPIError{StatusCode: 500, Err: "boom"}
	assert.Equal(t, "upstream error (status 500): boom", withoutDetail.Error())
}
