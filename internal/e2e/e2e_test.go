package e2e

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mx37/grapheneos-ai/internal/manager"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

func TestE2E_ModelsAndEmptyStatus(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"hello.yaml": helloScript, "loop.yaml": loopScript})
	srv, _ := newServerForDir(t, dir, manager.ManagerConfig{})

	resp, body := httpGet(t, srv.URL+"/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("models status %d: %s", resp.StatusCode, body)
	}
	var mr types.ModelsResponse
	decodeJSON(t, body, &mr)
	if len(mr.Models) != 2 || mr.Models[0].ID != "hello.yaml" || mr.Models[1].ID != "loop.yaml" {
		t.Fatalf("models = %+v", mr.Models)
	}

	resp, body = httpGet(t, srv.URL+"/status")
	var st types.StatusResponse
	decodeJSON(t, body, &st)
	if resp.StatusCode != http.StatusOK || st.State != string(manager.StateEmpty) || st.Model != nil || st.Engine != "replay" {
		t.Fatalf("status = %d %+v", resp.StatusCode, st)
	}

	resp, _ = httpGet(t, srv.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before load = %d", resp.StatusCode)
	}
	resp, _ = httpGet(t, srv.URL+"/info")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("info without model = %d", resp.StatusCode)
	}
}

func TestE2E_InferStreamLoadsDefault(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"hello.yaml": helloScript})
	srv, mgr := newServerForDir(t, dir, manager.ManagerConfig{DefaultModel: "hello.yaml"})

	resp, body := httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Prompt: "say hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("infer status %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		t.Fatalf("content type %q", ct)
	}
	lines := ndjsonLines(t, body)
	if len(lines) < 2 {
		t.Fatalf("too few lines: %q", body)
	}
	var streamed strings.Builder
	for _, l := range lines[:len(lines)-1] {
		var tl types.TokenLine
		decodeJSON(t, l, &tl)
		streamed.WriteString(tl.Token)
	}
	var fin types.FinalLine
	decodeJSON(t, lines[len(lines)-1], &fin)
	if !fin.Done || fin.Content != "Hi there!" || fin.FinishReason != "marker" || fin.Model != "hello.yaml" {
		t.Fatalf("final = %+v", fin)
	}
	if streamed.String() != fin.Content {
		t.Fatalf("streamed %q != content %q", streamed.String(), fin.Content)
	}
	if strings.Contains(string(body), "im_") {
		t.Fatalf("stop marker fragment leaked: %s", body)
	}
	if fin.ID == "" || fin.Usage.CompletionTokens == 0 || fin.Usage.PromptTokens == 0 {
		t.Fatalf("usage/id missing: %+v", fin)
	}
	if !mgr.Ready() {
		t.Fatalf("manager should be ready after lazy load")
	}
}

func TestE2E_InferBuffered(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"hello.yaml": helloScript})
	srv, _ := newServerForDir(t, dir, manager.ManagerConfig{})

	stream := false
	resp, body := httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Model: "hello.yaml", Prompt: "hi", Stream: &stream})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("infer status %d: %s", resp.StatusCode, body)
	}
	var ir types.InferResponse
	decodeJSON(t, body, &ir)
	if ir.Content != "Hi there!" || ir.FinishReason != "marker" || ir.Error != "" {
		t.Fatalf("response = %+v", ir)
	}
}

func TestE2E_InferErrors(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"hello.yaml": helloScript})
	srv, _ := newServerForDir(t, dir, manager.ManagerConfig{})

	resp, body := httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Prompt: "hi"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("no model: status %d: %s", resp.StatusCode, body)
	}
	resp, body = httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Model: "missing.yaml", Prompt: "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown model: status %d: %s", resp.StatusCode, body)
	}
	resp, body = httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Model: "hello.yaml"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing prompt: status %d: %s", resp.StatusCode, body)
	}
	var er types.ErrorResponse
	decodeJSON(t, body, &er)
	if er.Code != http.StatusBadRequest || er.Error == "" {
		t.Fatalf("error body = %+v", er)
	}
}

func TestE2E_LoadInfoUnload(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"hello.yaml": helloScript})
	srv, _ := newServerForDir(t, dir, manager.ManagerConfig{})

	resp, body := httpPostJSON(t, srv.URL+"/load", types.LoadRequest{Model: "hello.yaml", ContextSize: 512})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load status %d: %s", resp.StatusCode, body)
	}
	var lr types.LoadResponse
	decodeJSON(t, body, &lr)
	if lr.Model != "hello.yaml" || lr.State != string(manager.StateReady) {
		t.Fatalf("load response = %+v", lr)
	}

	_, body = httpGet(t, srv.URL+"/status")
	var st types.StatusResponse
	decodeJSON(t, body, &st)
	if st.Model == nil || st.Model.ContextSize != 512 || st.LoadsTotal != 1 {
		t.Fatalf("status after load = %+v", st)
	}

	resp, body = httpGet(t, srv.URL+"/info")
	var info types.ModelInfo
	decodeJSON(t, body, &info)
	if resp.StatusCode != http.StatusOK || info.Description != "hello" || info.ContextSize != 512 {
		t.Fatalf("info = %d %+v", resp.StatusCode, info)
	}

	resp, body = httpPostJSON(t, srv.URL+"/unload", nil)
	decodeJSON(t, body, &st)
	if resp.StatusCode != http.StatusOK || st.State != string(manager.StateEmpty) || st.Model != nil {
		t.Fatalf("unload = %d %+v", resp.StatusCode, st)
	}
}

func TestE2E_AsyncLoad(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"hello.yaml": helloScript})
	srv, mgr := newServerForDir(t, dir, manager.ManagerConfig{})

	resp, body := httpPostJSON(t, srv.URL+"/load", types.LoadRequest{Model: "hello.yaml", Async: true})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("async load status %d: %s", resp.StatusCode, body)
	}
	var lr types.LoadResponse
	decodeJSON(t, body, &lr)
	if lr.OpID == "" {
		t.Fatalf("missing op id: %+v", lr)
	}
	waitFor(t, mgr.Ready)
}

func TestE2E_StopInterruptsStream(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"loop.yaml": loopScript})
	srv, mgr := newServerForDir(t, dir, manager.ManagerConfig{DefaultModel: "loop.yaml"})

	done := make(chan []byte, 1)
	go func() {
		_, body := httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Prompt: "go", MaxTokens: 4000})
		done <- body
	}()
	waitFor(t, func() bool { return mgr.Status().Generating })

	resp, body := httpPostJSON(t, srv.URL+"/stop", nil)
	var sr types.StopResponse
	decodeJSON(t, body, &sr)
	if resp.StatusCode != http.StatusOK || !sr.Stopped {
		t.Fatalf("stop = %d %+v", resp.StatusCode, sr)
	}

	var out []byte
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not end after stop")
	}
	lines := ndjsonLines(t, out)
	var fin types.FinalLine
	decodeJSON(t, lines[len(lines)-1], &fin)
	if fin.FinishReason != "cancelled" || !strings.HasPrefix(fin.Content, "tick") {
		t.Fatalf("final = %+v", fin)
	}

	resp, body = httpPostJSON(t, srv.URL+"/stop", nil)
	decodeJSON(t, body, &sr)
	if resp.StatusCode != http.StatusOK || sr.Stopped {
		t.Fatalf("idle stop = %d %+v", resp.StatusCode, sr)
	}
}

func TestE2E_QueueFullReturns429(t *testing.T) {
	dir := createScriptsDir(t, map[string]string{"loop.yaml": loopScript})
	srv, mgr := newServerForDir(t, dir, manager.ManagerConfig{
		DefaultModel:  "loop.yaml",
		MaxQueueDepth: 1,
		MaxWait:       50 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Prompt: "go", MaxTokens: 4000})
	}()
	waitFor(t, func() bool { return mgr.Status().Generating })

	resp, body := httpPostJSON(t, srv.URL+"/infer", types.InferRequest{Prompt: "second"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second infer status %d: %s", resp.StatusCode, body)
	}

	mgr.Stop()
	<-done
}
