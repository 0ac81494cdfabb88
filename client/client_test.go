package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zenoo-go/zenoo/protocol"
)

// testServer builds a fake JSON-RPC application server. handler receives the
// decoded call params and returns either a result value or an RPCError.
func testServer(t *testing.T, handler func(params *protocol.CallParams) (interface{}, *protocol.RPCError)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, rpcErr := handler(req.Params)

		resp := protocol.Response{JSONRPC: protocol.ProtocolVersion, ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp.Result = raw
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&resp)
	})
	mux.HandleFunc("/web/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestLiveClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), ClientOptions{
		HostOrURL: srv.URL,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func defaultDispatch(t *testing.T, extra func(params *protocol.CallParams) (interface{}, *protocol.RPCError, bool)) func(params *protocol.CallParams) (interface{}, *protocol.RPCError) {
	return func(params *protocol.CallParams) (interface{}, *protocol.RPCError) {
		if extra != nil {
			if result, rpcErr, handled := extra(params); handled {
				return result, rpcErr
			}
		}
		switch params.Service {
		case "common":
			switch params.Method {
			case "version":
				return map[string]interface{}{"server_version": "18.0"}, nil
			case "authenticate":
				user, _ := params.Args[1].(string)
				credential, _ := params.Args[2].(string)
				if user == "admin" && credential == "secret" {
					return 7, nil
				}
				return false, nil
			}
		}
		t.Fatalf("unhandled call: %s.%s", params.Service, params.Method)
		return nil, nil
	}
}

func loginAdmin(t *testing.T, c *Client) {
	t.Helper()
	if err := c.Login(context.Background(), "mydb", "admin", "secret"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	srv := testServer(t, defaultDispatch(t, nil))
	c := newTestLiveClient(t, srv)

	loginAdmin(t, c)
	if c.GetState() != CONNECTED {
		t.Fatalf("expected CONNECTED, got %s", c.GetState())
	}

	c2 := newTestLiveClient(t, srv)
	err := c2.Login(context.Background(), "mydb", "admin", "wrong")
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if _, ok := err.(*AuthenticationError); !ok {
		t.Errorf("expected AuthenticationError, got %T: %v", err, err)
	}
	if c2.GetState() != DISCONNECTED {
		t.Errorf("expected DISCONNECTED after failed login, got %s", c2.GetState())
	}
}

func TestExecuteKwMergesContext(t *testing.T) {
	var seenKwargs map[string]interface{}
	srv := testServer(t, defaultDispatch(t, func(params *protocol.CallParams) (interface{}, *protocol.RPCError, bool) {
		if params.Service == "object" && params.Method == "execute_kw" {
			seenKwargs, _ = params.Args[6].(map[string]interface{})
			return []interface{}{}, nil
		}
		return nil, nil, false
	}))
	c := newTestLiveClient(t, srv)
	loginAdmin(t, c)

	_, err := c.ExecuteKw(context.Background(), "res.partner", "search_read",
		[]interface{}{[]interface{}{}},
		map[string]interface{}{"context": map[string]interface{}{"lang": "fr_FR"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctxVal, _ := seenKwargs["context"].(map[string]interface{})
	if ctxVal["lang"] != "fr_FR" {
		t.Errorf("expected call context to override session lang, got %v", ctxVal)
	}
	if ctxVal["uid"] != float64(7) && ctxVal["uid"] != 7 {
		t.Errorf("expected session uid to survive merge, got %v", ctxVal["uid"])
	}
}

func TestCreateWriteUnlink(t *testing.T) {
	srv := testServer(t, defaultDispatch(t, func(params *protocol.CallParams) (interface{}, *protocol.RPCError, bool) {
		if params.Service != "object" || params.Method != "execute_kw" {
			return nil, nil, false
		}
		model, _ := params.Args[3].(string)
		method, _ := params.Args[4].(string)
		if model != "res.partner" {
			return nil, nil, false
		}
		switch method {
		case "create":
			return 42, nil, true
		case "write":
			return true, nil, true
		case "unlink":
			return true, nil, true
		case "search_read":
			return []interface{}{map[string]interface{}{"id": float64(42)}}, nil, true
		}
		return nil, nil, false
	}))
	c := newTestLiveClient(t, srv)
	loginAdmin(t, c)

	id, err := c.Create(context.Background(), "res.partner", map[string]interface{}{"name": "Acme"}, nil, false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}

	if err := c.Write(context.Background(), "res.partner", []int{42}, map[string]interface{}{"name": "Acme Corp"}, nil, true); err != nil {
		t.Fatalf("Write with checkAccess failed: %v", err)
	}

	if err := c.Unlink(context.Background(), "res.partner", []int{42}, nil, true); err != nil {
		t.Fatalf("Unlink with checkReferences failed: %v", err)
	}
}

func TestWriteCheckAccessRejectsMissingID(t *testing.T) {
	srv := testServer(t, defaultDispatch(t, func(params *protocol.CallParams) (interface{}, *protocol.RPCError, bool) {
		if params.Service != "object" || params.Method != "execute_kw" {
			return nil, nil, false
		}
		method, _ := params.Args[4].(string)
		if method == "search_read" {
			return []interface{}{}, nil, true // id 99 not visible
		}
		return nil, nil, false
	}))
	c := newTestLiveClient(t, srv)
	loginAdmin(t, c)

	err := c.Write(context.Background(), "res.partner", []int{99}, map[string]interface{}{"name": "x"}, nil, true)
	if err == nil {
		t.Fatal("expected AccessError for invisible id")
	}
	if _, ok := err.(*AccessError); !ok {
		t.Errorf("expected AccessError, got %T: %v", err, err)
	}
}

func TestCreateValidateRequiredRejectsMissingField(t *testing.T) {
	srv := testServer(t, defaultDispatch(t, func(params *protocol.CallParams) (interface{}, *protocol.RPCError, bool) {
		if params.Service != "object" || params.Method != "execute_kw" {
			return nil, nil, false
		}
		method, _ := params.Args[4].(string)
		if method == "fields_get" {
			return map[string]interface{}{
				"name": map[string]interface{}{"required": true},
			}, nil, true
		}
		t.Fatalf("create should not reach the server when validation fails, got method %s", method)
		return nil, nil, false
	}))
	c := newTestLiveClient(t, srv)
	loginAdmin(t, c)

	_, err := c.Create(context.Background(), "res.partner", map[string]interface{}{}, nil, true)
	if err == nil {
		t.Fatal("expected ValidationError for missing required field")
	}
	valErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if len(valErr.MissingFields) != 1 || valErr.MissingFields[0] != "name" {
		t.Errorf("expected missing field 'name', got %v", valErr.MissingFields)
	}
}

func TestSafeReadFallsBackOnAccessError(t *testing.T) {
	srv := testServer(t, defaultDispatch(t, func(params *protocol.CallParams) (interface{}, *protocol.RPCError, bool) {
		if params.Service != "object" || params.Method != "execute_kw" {
			return nil, nil, false
		}
		method, _ := params.Args[4].(string)
		switch method {
		case "read":
			return nil, &protocol.RPCError{Code: -32500, Message: "access denied: forbidden for this record"}, true
		case "search_read":
			return []interface{}{map[string]interface{}{"id": float64(1), "name": "Acme"}}, nil, true
		}
		return nil, nil, false
	}))
	c := newTestLiveClient(t, srv)
	loginAdmin(t, c)

	records, ok := c.SafeRead(context.Background(), "res.partner", []int{1}, []string{"name"}, nil)
	if !ok {
		t.Fatal("expected SafeRead to recover via search_read fallback")
	}
	if len(records) != 1 || records[0]["name"] != "Acme" {
		t.Errorf("unexpected fallback result: %v", records)
	}
}

func TestHealthCheckAndServerInfo(t *testing.T) {
	srv := testServer(t, defaultDispatch(t, nil))
	c := newTestLiveClient(t, srv)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	version, err := c.GetServerVersion(context.Background())
	if err != nil {
		t.Fatalf("GetServerVersion failed: %v", err)
	}
	if version["server_version"] != "18.0" {
		t.Errorf("unexpected version payload: %v", version)
	}
}

func TestSetupSubsystemsIdempotentAndGated(t *testing.T) {
	srv := testServer(t, defaultDispatch(t, nil))
	c := newTestLiveClient(t, srv)

	if _, err := c.Batch(""); err == nil {
		t.Fatal("expected StateError before SetupBatchManager")
	}

	if err := c.SetupBatchManager(50, 2, 5*time.Second); err != nil {
		t.Fatalf("SetupBatchManager failed: %v", err)
	}
	if _, err := c.Batch(""); err != nil {
		t.Errorf("expected Batch to succeed after setup: %v", err)
	}

	if err := c.SetupCacheManager("memory", "", false, 0, 100, time.Minute); err != nil {
		t.Fatalf("SetupCacheManager failed: %v", err)
	}

	if err := c.SetupTransactionManager(10, 30*time.Second); err != nil {
		t.Fatalf("SetupTransactionManager failed: %v", err)
	}
	if _, err := c.Transaction(context.Background(), "", true); err != nil {
		t.Errorf("expected Transaction to succeed after setup: %v", err)
	}
}

func TestExecuteMergesExplicitContextHighestPriority(t *testing.T) {
	var seenKwargs map[string]interface{}
	srv := testServer(t, defaultDispatch(t, func(params *protocol.CallParams) (interface{}, *protocol.RPCError, bool) {
		if params.Service == "object" && params.Method == "execute_kw" {
			seenKwargs, _ = params.Args[6].(map[string]interface{})
			return true, nil, true
		}
		return nil, nil, false
	}))
	c := newTestLiveClient(t, srv)
	loginAdmin(t, c)

	_, err := c.Execute(context.Background(), "res.partner", "write",
		[]interface{}{[]interface{}{1}, map[string]interface{}{}},
		map[string]interface{}{"lang": "de_DE"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctxVal, _ := seenKwargs["context"].(map[string]interface{})
	if ctxVal["lang"] != "de_DE" {
		t.Errorf("expected explicit context to win, got %v", ctxVal)
	}
}
