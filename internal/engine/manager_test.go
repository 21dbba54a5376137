/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/audio"
	"github.com/murmurlabs/murmur-engine/internal/events"
	"github.com/murmurlabs/murmur-engine/internal/scratch"
	"github.com/murmurlabs/murmur-engine/internal/settings"
	"github.com/murmurlabs/murmur-engine/internal/sidecar"
)

type fakeRecorder struct {
	events []*events.TranscriptionEvent
}

func (r *fakeRecorder) SaveTranscription(event *events.TranscriptionEvent) error {
	r.events = append(r.events, event)
	return nil
}

type fakePublisher struct {
	transcriptions []*events.TranscriptionEvent
	states         []string
}

func (p *fakePublisher) PublishTranscription(event *events.TranscriptionEvent) error {
	p.transcriptions = append(p.transcriptions, event)
	return nil
}

func (p *fakePublisher) PublishModelState(modelID string, state ModelState) error {
	p.states = append(p.states, fmt.Sprintf("%s:%s", modelID, state))
	return nil
}

// convRunner stands in for ffmpeg: on success it writes the output file,
// on failure it reports a spawn error.
type convRunner struct {
	called bool
	fail   bool
}

func (r *convRunner) Run(ctx context.Context, spec sidecar.Spec) (sidecar.Result, error) {
	r.called = true
	if r.fail {
		return sidecar.Result{ExitCode: -1}, errors.New("executable file not found")
	}
	out := spec.Args[len(spec.Args)-1]
	if err := os.WriteFile(out, []byte("RIFF"), 0o600); err != nil {
		return sidecar.Result{}, err
	}
	return sidecar.Result{}, nil
}

type managerFixture struct {
	manager   *Manager
	local     *LocalAdapter
	scratch   *scratch.Dir
	conv      *convRunner
	sidecar   *stubRunner
	recorder  *fakeRecorder
	publisher *fakePublisher
}

// newTestManager assembles a manager against a remote HTTP stub and a local
// adapter with fake binary, injected runners, and isolated scratch space.
func newTestManager(t *testing.T, remoteHandler http.Handler) *managerFixture {
	t.Helper()

	store := settings.NewStore(t.TempDir())

	var endpointURL string
	if remoteHandler != nil {
		server := httptest.NewServer(remoteHandler)
		t.Cleanup(server.Close)
		endpointURL = server.URL
	}

	remote := NewRemoteAdapter(store, settings.RemoteSettings{
		EndpointURL:   endpointURL,
		SelectedModel: "parakeet-tdt-0.6b-v2",
		Configured:    endpointURL != "",
	}, testTimeouts())

	local, _ := newTestLocal(t, nil)
	sidecarRunner := &stubRunner{}
	local.runner = sidecarRunner

	conv := &convRunner{}
	converter := audio.NewConverterWithRunner("ffmpeg", time.Minute, conv)

	scratchDir := scratch.NewDir(t.TempDir())
	recorder := &fakeRecorder{}
	publisher := &fakePublisher{}

	manager := NewManager(ManagerConfig{DefaultModel: "parakeet-tdt-0.6b-v2"},
		remote, local, converter, scratchDir, recorder, publisher)

	return &managerFixture{
		manager:   manager,
		local:     local,
		scratch:   scratchDir,
		conv:      conv,
		sidecar:   sidecarRunner,
		recorder:  recorder,
		publisher: publisher,
	}
}

// scratchFileCount counts files left in the scratch directory.
func scratchFileCount(t *testing.T, dir *scratch.Dir) int {
	t.Helper()
	entries, err := os.ReadDir(dir.Path())
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	return len(entries)
}

func okRemote(text string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/v1/audio/transcriptions":
			_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
		case "/v1/models/switch":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			http.NotFound(w, r)
		}
	})
}

func TestProcessAudioRemoteSkipsConversion(t *testing.T) {
	f := newTestManager(t, okRemote("hello world"))

	result, err := f.manager.ProcessAudio(context.Background(), []byte("webm bytes"), Options{})
	if err != nil {
		t.Fatalf("ProcessAudio() error = %v", err)
	}
	if !result.Success || result.Text != "hello world" {
		t.Errorf("result = %+v", result)
	}
	if f.conv.called {
		t.Error("converter ran for a remote transcription")
	}
	if n := scratchFileCount(t, f.scratch); n != 0 {
		t.Errorf("%d scratch files left behind", n)
	}
	if len(f.recorder.events) != 1 || !f.recorder.events[0].Success {
		t.Errorf("recorder events = %+v", f.recorder.events)
	}
	if len(f.publisher.transcriptions) != 1 {
		t.Errorf("published transcriptions = %d, want 1", len(f.publisher.transcriptions))
	}
}

func TestProcessAudioLocalConverts(t *testing.T) {
	f := newTestManager(t, nil)
	writeModelDir(t, f.local.catalog.BaseDir(), "parakeet-tdt-0.6b-v2-int8", completeModelFiles())
	f.local.activeModel = "local-parakeet-tdt-0.6b-v2-int8"
	f.manager.active = KindLocal
	f.sidecar.result = sidecar.Result{Stdout: "hello from local\n"}

	result, err := f.manager.ProcessAudio(context.Background(), []byte("webm bytes"), Options{})
	if err != nil {
		t.Fatalf("ProcessAudio() error = %v", err)
	}
	if !result.Success || result.Text != "hello from local" {
		t.Errorf("result = %+v", result)
	}
	if !f.conv.called {
		t.Error("converter did not run for non-WAV input on the local engine")
	}
	if !strings.HasSuffix(f.sidecar.spec.Args[len(f.sidecar.spec.Args)-1], ".wav") {
		t.Errorf("sidecar received %q, want the converted wav", f.sidecar.spec.Args[len(f.sidecar.spec.Args)-1])
	}
	if n := scratchFileCount(t, f.scratch); n != 0 {
		t.Errorf("%d scratch files left behind", n)
	}
}

func TestProcessAudioConversionFailureFolded(t *testing.T) {
	f := newTestManager(t, nil)
	f.manager.active = KindLocal
	f.conv.fail = true

	result, err := f.manager.ProcessAudio(context.Background(), []byte("webm bytes"), Options{})
	if err != nil {
		t.Fatalf("ProcessAudio() error = %v, conversion failures fold into the result", err)
	}
	if result.Success {
		t.Fatal("result.Success = true despite conversion failure")
	}
	if !strings.Contains(result.Error, string(CategoryConversion)) {
		t.Errorf("Error = %q, want conversion category", result.Error)
	}
	if n := scratchFileCount(t, f.scratch); n != 0 {
		t.Errorf("%d scratch files left behind after failure", n)
	}
	// The failure is still recorded.
	if len(f.recorder.events) != 1 || f.recorder.events[0].Success {
		t.Errorf("recorder events = %+v", f.recorder.events)
	}
}

func TestProcessAudioTranscriptionFailureCleansUp(t *testing.T) {
	f := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	result, err := f.manager.ProcessAudio(context.Background(), []byte("webm bytes"), Options{})
	if err != nil {
		t.Fatalf("ProcessAudio() error = %v", err)
	}
	if result.Success {
		t.Fatal("result.Success = true against a failing backend")
	}
	if n := scratchFileCount(t, f.scratch); n != 0 {
		t.Errorf("%d scratch files left behind after failure", n)
	}
}

func TestSwitchModelDispatchesOnNamespace(t *testing.T) {
	f := newTestManager(t, okRemote(""))
	writeModelDir(t, f.local.catalog.BaseDir(), "parakeet-tdt-0.6b-v2-int8", completeModelFiles())

	if err := f.manager.SwitchModel(context.Background(), "local-parakeet-tdt-0.6b-v2-int8"); err != nil {
		t.Fatalf("SwitchModel(local) error = %v", err)
	}
	if f.manager.ActiveAdapter() != KindLocal {
		t.Errorf("ActiveAdapter() = %v after local switch", f.manager.ActiveAdapter())
	}
	if f.manager.CurrentModel() != "local-parakeet-tdt-0.6b-v2-int8" {
		t.Errorf("CurrentModel() = %q", f.manager.CurrentModel())
	}

	if err := f.manager.SwitchModel(context.Background(), "parakeet-tdt-0.6b-v3"); err != nil {
		t.Fatalf("SwitchModel(remote) error = %v", err)
	}
	if f.manager.ActiveAdapter() != KindRemote {
		t.Errorf("ActiveAdapter() = %v after remote switch", f.manager.ActiveAdapter())
	}

	want := []string{
		"local-parakeet-tdt-0.6b-v2-int8:switching",
		"local-parakeet-tdt-0.6b-v2-int8:loaded",
		"parakeet-tdt-0.6b-v3:switching",
		"parakeet-tdt-0.6b-v3:loaded",
	}
	if len(f.publisher.states) != len(want) {
		t.Fatalf("published states = %v, want %v", f.publisher.states, want)
	}
	for i := range want {
		if f.publisher.states[i] != want[i] {
			t.Errorf("states[%d] = %q, want %q", i, f.publisher.states[i], want[i])
		}
	}
}

func TestSwitchModelFailureLeavesStateUntouched(t *testing.T) {
	f := newTestManager(t, okRemote(""))

	err := f.manager.SwitchModel(context.Background(), "local-parakeet-tdt-0.6b-v2-int8")
	if err == nil {
		t.Fatal("SwitchModel() error = nil for an undownloaded model")
	}
	if f.manager.ActiveAdapter() != KindRemote {
		t.Errorf("ActiveAdapter() = %v, switch failure changed the adapter", f.manager.ActiveAdapter())
	}
	if f.manager.CurrentModel() != "parakeet-tdt-0.6b-v2" {
		t.Errorf("CurrentModel() = %q, switch failure changed the model", f.manager.CurrentModel())
	}

	want := []string{
		"local-parakeet-tdt-0.6b-v2-int8:switching",
		"local-parakeet-tdt-0.6b-v2-int8:available",
	}
	if len(f.publisher.states) != len(want) || f.publisher.states[1] != want[1] {
		t.Errorf("published states = %v, want %v", f.publisher.states, want)
	}
}

func TestSwitchModelEmptyID(t *testing.T) {
	f := newTestManager(t, nil)
	if err := f.manager.SwitchModel(context.Background(), ""); err == nil {
		t.Error("SwitchModel(\"\") error = nil")
	}
}

func TestListModelsSingleLoaded(t *testing.T) {
	f := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			_, _ = w.Write([]byte(`{"data":[
				{"id":"parakeet-tdt-0.6b-v2","label":"Parakeet English","group":"gpu","active":true}
			]}`))
			return
		}
		http.NotFound(w, r)
	}))
	// The local adapter also believes its model is loaded; the merged view
	// must keep only the manager's active model in that state.
	writeModelDir(t, f.local.catalog.BaseDir(), "parakeet-tdt-0.6b-v2-int8", completeModelFiles())
	f.local.activeModel = "local-parakeet-tdt-0.6b-v2-int8"

	models := f.manager.ListModels(context.Background())

	loaded := 0
	for _, m := range models {
		if m.State == StateLoaded {
			loaded++
			if m.ID != "parakeet-tdt-0.6b-v2" {
				t.Errorf("loaded model = %q, want the active remote model", m.ID)
			}
		}
	}
	if loaded != 1 {
		t.Errorf("loaded models = %d, want exactly 1", loaded)
	}
}

func TestDownloadModelRejectsRemoteID(t *testing.T) {
	f := newTestManager(t, nil)

	err := f.manager.DownloadModel(context.Background(), "parakeet-tdt-0.6b-v2", nil)
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("DownloadModel() error = %v, want ErrUnknownModel", err)
	}
	if len(f.publisher.states) != 0 {
		t.Errorf("published states = %v for a rejected download", f.publisher.states)
	}
}

func TestGetLastTranscription(t *testing.T) {
	f := newTestManager(t, okRemote("first result"))

	if got := f.manager.GetLastTranscription(); got != nil {
		t.Fatalf("GetLastTranscription() = %+v before any request", got)
	}

	if _, err := f.manager.ProcessAudio(context.Background(), []byte("audio"), Options{}); err != nil {
		t.Fatalf("ProcessAudio() error = %v", err)
	}

	last := f.manager.GetLastTranscription()
	if last == nil || last.Text != "first result" {
		t.Fatalf("GetLastTranscription() = %+v", last)
	}

	// The accessor hands out a copy.
	last.Text = "mutated"
	if again := f.manager.GetLastTranscription(); again.Text != "first result" {
		t.Errorf("stored result mutated through the returned copy")
	}
}

func TestInitializeRestoresPersistedSelection(t *testing.T) {
	f := newTestManager(t, okRemote(""))

	f.manager.Initialize(context.Background())
	if f.manager.ActiveAdapter() != KindRemote {
		t.Errorf("ActiveAdapter() = %v, want remote", f.manager.ActiveAdapter())
	}
	if f.manager.CurrentModel() != "parakeet-tdt-0.6b-v2" {
		t.Errorf("CurrentModel() = %q", f.manager.CurrentModel())
	}
}

func TestInitializePersistedLocalSelectionFlipsAdapter(t *testing.T) {
	f := newTestManager(t, okRemote(""))

	// A persisted local model outranks the reachable remote service.
	cfg := f.manager.GetConfig()
	cfg.SelectedModel = "local-parakeet-tdt-0.6b-v2-int8"
	if err := f.manager.Configure(cfg); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	f.manager.Initialize(context.Background())
	if f.manager.ActiveAdapter() != KindLocal {
		t.Errorf("ActiveAdapter() = %v, want local for a local selection", f.manager.ActiveAdapter())
	}
	if f.manager.CurrentModel() != "local-parakeet-tdt-0.6b-v2-int8" {
		t.Errorf("CurrentModel() = %q", f.manager.CurrentModel())
	}
}
