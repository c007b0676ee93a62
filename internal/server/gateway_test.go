package server_test

import (
	"NoteLedger/internal/server"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayClient struct {
	t   *testing.T
	srv *httptest.Server
}

func newGatewayClient(t *testing.T, f *fixture) *gatewayClient {
	t.Helper()
	gw, err := server.NewGateway(f.svc, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &gatewayClient{t: t, srv: srv}
}

func (c *gatewayClient) do(method, path, body string, header http.Header) (int, map[string]any) {
	c.t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rd)
	require.NoError(c.t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (c *gatewayClient) post(path, body string) (int, map[string]any) {
	return c.do(http.MethodPost, path, body, nil)
}

func (c *gatewayClient) get(path string) (int, map[string]any) {
	return c.do(http.MethodGet, path, "", nil)
}

func (c *gatewayClient) fundedNote() {
	c.t.Helper()
	code, body := c.post("/v1/notes", fmt.Sprintf(`{"goal":"1000000","token_ref":%q,"beneficiary":%q}`, tokenAddr, beneficiary))
	require.Equal(c.t, http.StatusOK, code, body)
	require.EqualValues(c.t, 1, body["note_id"])

	for _, inv := range []struct{ who, amt string }{{alice, "600000"}, {bob, "400000"}} {
		code, body = c.post("/v1/notes/1/investments", fmt.Sprintf(`{"investor":%q,"amount":%q}`, inv.who, inv.amt))
		require.Equal(c.t, http.StatusOK, code, body)
	}
}

func TestGateway_NoteFlow(t *testing.T) {
	c := newGatewayClient(t, newFixture(t))
	c.fundedNote()

	code, body := c.get("/v1/notes/1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "FUNDED", body["state"])
	assert.Equal(t, "1", body["goal_display"])

	code, body = c.post("/v1/notes/1/yield", fmt.Sprintf(`{"payer":%q,"amount":"2500000"}`, payer))
	require.Equal(t, http.StatusOK, code, body)

	code, body = c.get("/v1/notes/1/claimable/" + alice)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1500000", body["amount"])
	assert.Equal(t, "1.5", body["amount_display"])

	code, body = c.post("/v1/notes/1/claims", fmt.Sprintf(`{"investor":%q}`, alice))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "1500000", body["paid"])

	code, body = c.get("/v1/notes/1/yield")
	require.Equal(t, http.StatusOK, code)
	deposits, ok := body["deposits"].([]any)
	require.True(t, ok)
	assert.Len(t, deposits, 1)

	code, body = c.get("/v1/notes/1/stakes/" + alice)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1500000", body["claimed"])

	code, body = c.get("/v1/notes/1/audit")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["healthy"])
}

func TestGateway_TermsRoundTripAsBase64(t *testing.T) {
	c := newGatewayClient(t, newFixture(t))

	// 0x00 0xff 0xfe 0x80 is not valid UTF-8.
	code, body := c.post("/v1/notes", fmt.Sprintf(`{"goal":"1000","token_ref":%q,"beneficiary":%q,"terms":"AP/+gA=="}`, tokenAddr, beneficiary))
	require.Equal(t, http.StatusOK, code, body)

	code, body = c.get("/v1/notes/1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AP/+gA==", body["terms"])
}

func TestGateway_CountRouteWinsOverNoteID(t *testing.T) {
	c := newGatewayClient(t, newFixture(t))
	c.fundedNote()

	code, body := c.get("/v1/notes/count")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["count"])
}

func TestGateway_ErrorStatuses(t *testing.T) {
	f := newFixture(t)
	c := newGatewayClient(t, f)
	c.fundedNote()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		code   string
	}{
		{"unknown note", http.MethodGet, "/v1/notes/42", "", http.StatusNotFound, "NotFound"},
		{"non-numeric id", http.MethodGet, "/v1/notes/abc/audit", "", http.StatusBadRequest, "InvalidArgument"},
		{"malformed body", http.MethodPost, "/v1/notes", "{", http.StatusBadRequest, "InvalidArgument"},
		{"bad amount", http.MethodPost, "/v1/notes/1/yield", fmt.Sprintf(`{"payer":%q,"amount":"-5"}`, payer), http.StatusBadRequest, "InvalidArgument"},
		{"closed note", http.MethodPost, "/v1/notes/1/investments", fmt.Sprintf(`{"investor":%q,"amount":"1"}`, alice), http.StatusConflict, "FailedPrecondition"},
		{"nothing to claim", http.MethodPost, "/v1/notes/1/claims", fmt.Sprintf(`{"investor":%q}`, bob), http.StatusConflict, "FailedPrecondition"},
		{"bad cursor", http.MethodGet, "/v1/admin/journal?after=x", "", http.StatusBadRequest, "InvalidArgument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := c.do(tc.method, tc.path, tc.body, nil)
			assert.Equal(t, tc.want, code, body)
			assert.Equal(t, tc.code, body["code"])
		})
	}

	t.Run("failed payout", func(t *testing.T) {
		code, _ := c.post("/v1/notes/1/yield", fmt.Sprintf(`{"payer":%q,"amount":"100"}`, payer))
		require.Equal(t, http.StatusOK, code)

		f.token.FailNext(1, nil)
		code, body := c.post("/v1/notes/1/claims", fmt.Sprintf(`{"investor":%q}`, bob))
		assert.Equal(t, http.StatusBadGateway, code, body)
		assert.Equal(t, "Unavailable", body["code"])
	})

	t.Run("unknown route", func(t *testing.T) {
		code, _ := c.get("/v1/nope")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestGateway_IdempotencyKeyHeader(t *testing.T) {
	c := newGatewayClient(t, newFixture(t))
	c.fundedNote()

	key := uuid.NewString()
	header := http.Header{server.IdempotencyKeyHeader: []string{key}}
	body := fmt.Sprintf(`{"payer":%q,"amount":"1000"}`, payer)

	code, resp := c.do(http.MethodPost, "/v1/notes/1/yield", body, header)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, key, resp["request_id"])

	code, resp = c.do(http.MethodPost, "/v1/notes/1/yield", body, header)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "AlreadyExists", resp["code"])

	// An id in the body takes precedence over the header.
	other := uuid.NewString()
	code, resp = c.do(http.MethodPost, "/v1/notes/1/yield",
		fmt.Sprintf(`{"request_id":%q,"payer":%q,"amount":"1000"}`, other, payer), header)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, other, resp["request_id"])
}

func TestGateway_AdminRoutes(t *testing.T) {
	c := newGatewayClient(t, newFixture(t))
	c.fundedNote()

	code, body := c.get("/v1/admin/journal?after=1&limit=10")
	require.Equal(t, http.StatusOK, code, body)
	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 2)
	assert.EqualValues(t, 0, body["next"])

	code, body = c.get("/v1/admin/integrity")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_healthy"])

	code, body = c.post("/v1/admin/snapshots", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 3, body["sequence"])

	code, body = c.get("/v1/admin/event-log")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["latest_sequence"])

	code, body = c.get("/v1/admin/status")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["notes"])
}
