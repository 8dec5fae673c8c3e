package httpfrontend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nkazachenko/grps-core-go/pkg/config"
	"github.com/nkazachenko/grps-core-go/pkg/engine"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"gopkg.in/yaml.v3"
)

// Canonical paths per §6.
const (
	PathPredict       = "/grps/v1/infer/predict"
	PathHealthOnline  = "/grps/v1/health/online"
	PathHealthOffline = "/grps/v1/health/offline"
	PathHealthLive    = "/grps/v1/health/live"
	PathHealthReady   = "/grps/v1/health/ready"
	PathMetaServer    = "/grps/v1/metadata/server"
	PathMetaModel     = "/grps/v1/metadata/model"
	PathMonitorMetric = "/grps/v1/monitor/metrics"
	PathMonitorSeries = "/grps/v1/monitor/series"
	PathJSPrefix      = "/grps/v1/js/"
)

// Server is the canonical HTTP front end, dispatching requests into an
// *engine.Engine. It additionally registers a user-configured
// customized_predict_http endpoint when the server document names one.
type Server struct {
	Eng                 *engine.Engine
	ServerConfigPath    string
	InferenceConfigPath string
}

// NewServer builds a Server for eng. serverConfigPath/inferenceConfigPath
// are the on-disk documents Bootstrap was given, re-read (with comments
// stripped) to answer the metadata endpoints, per grps_handler.cc's
// GetServerMetadata/GetModelMetadata.
func NewServer(eng *engine.Engine, serverConfigPath, inferenceConfigPath string) *Server {
	return &Server{Eng: eng, ServerConfigPath: serverConfigPath, InferenceConfigPath: inferenceConfigPath}
}

// Handler builds the full route table. The predict, health, metadata and
// customized-predict handlers are wrapped with the engine's Prometheus
// request-count/in-flight middleware; the monitor and JS routes are not.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(PathPredict, s.withMetrics("predict", s.handlePredict))
	mux.HandleFunc(PathHealthOnline, s.withMetrics("health", s.handleOnline))
	mux.HandleFunc(PathHealthOffline, s.withMetrics("health", s.handleOffline))
	mux.HandleFunc(PathHealthLive, s.withMetrics("health", s.handleLive))
	mux.HandleFunc(PathHealthReady, s.withMetrics("health", s.handleReady))
	mux.HandleFunc(PathMetaServer, s.withMetrics("metadata", s.handleServerMetadata))
	mux.HandleFunc(PathMetaModel, s.withMetrics("metadata", s.handleModelMetadata))
	mux.HandleFunc(PathMonitorMetric, s.handleMonitorMetrics)
	mux.HandleFunc(PathMonitorSeries, s.handleMonitorSeries)
	mux.HandleFunc(PathJSPrefix, s.handleMonitorJS)

	if path := s.Eng.ServerCfg.Interface.CustomizedPredictHTTP.Path; path != "" {
		mux.HandleFunc(path, s.withMetrics("customized_predict", s.handleCustomizedPredict))
	}

	return mux
}

func (s *Server) withMetrics(model string, h http.HandlerFunc) http.HandlerFunc {
	if s.Eng.Prom == nil {
		return h
	}
	return s.Eng.Prom.Middleware(model, h)
}

// handlePredict implements the canonical /grps/v1/infer/predict body
// parsing rules from §6: JSON in one of three shapes, or a raw
// application/octet-stream body that becomes bin_data.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	in, shapeErr := parseRequestBody(r)
	if shapeErr != nil {
		http.Error(w, shapeErr.Error(), http.StatusBadRequest)
		return
	}

	out := &message.Message{}
	ctx := rcontext.New(in)
	if err := s.Eng.Infer(in, out, ctx, r.URL.Query().Get("model_name")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeResponse(w, r, out)
}

// handleCustomizedPredict serves the user-overridable predict path,
// honoring customized_body (raw bytes passthrough) and streaming_ctrl
// (where to read the streaming flag from), per §6.
func (s *Server) handleCustomizedPredict(w http.ResponseWriter, r *http.Request) {
	cfg := s.Eng.ServerCfg.Interface.CustomizedPredictHTTP

	var in *message.Message
	if cfg.CustomizedBody {
		body, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		in = &message.Message{BinData: body}
	} else {
		parsed, err := parseRequestBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		in = parsed
	}

	reqID := requestID(r)
	if reqID != "" && s.Eng.Cache != nil {
		if cached, err := s.Eng.Cache.Get(r.Context(), reqID); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached)
			return
		}
	}

	streaming := isStreaming(r, cfg)
	if streaming && strings.EqualFold(r.URL.Query().Get("return-ndarray"), "true") {
		http.Error(w, "return-ndarray cannot be combined with a streaming request", http.StatusBadRequest)
		return
	}

	out := &message.Message{}
	var ctx *rcontext.Context
	if streaming {
		w.Header().Set("Content-Type", cfg.StreamingCtrl.ResContentType)
		ctx = rcontext.NewStreaming(in, httpStreamSink{w: w, r: r})
	} else {
		ctx = rcontext.New(in)
	}

	if err := s.Eng.Infer(in, out, ctx, r.URL.Query().Get("model_name")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if streaming {
		return
	}

	body := s.encodeResponse(out)
	if reqID != "" && s.Eng.Cache != nil {
		_ = s.Eng.Cache.Set(r.Context(), reqID, body, time.Hour)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// httpStreamSink adapts an http.ResponseWriter into rcontext.StreamSink,
// flushing after every chunk so a long-lived connection streams rather
// than buffers.
type httpStreamSink struct {
	w http.ResponseWriter
	r *http.Request
}

func (s httpStreamSink) WriteMessage(m *message.Message) error {
	body, _ := json.Marshal(toWireMessage(m))
	return s.WriteBytes(body)
}

func (s httpStreamSink) WriteBytes(b []byte) error {
	_, err := s.w.Write(b)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return err
}

func (s httpStreamSink) Close() error { return nil }

func (s httpStreamSink) IsCancelled() bool {
	if s.r == nil {
		return false
	}
	return s.r.Context().Err() != nil
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("request_id")
}

func isStreaming(r *http.Request, cfg config.CustomizedPredictConfig) bool {
	key := cfg.StreamingCtrl.CtrlKey
	if key == "" {
		key = "streaming"
	}
	switch cfg.StreamingCtrl.CtrlMode {
	case "header_param":
		return strings.EqualFold(r.Header.Get(key), "true")
	case "body_param":
		return false // body already consumed by the time this is checked; customized_body callers decide their own framing
	default: // query_param
		return strings.EqualFold(r.URL.Query().Get(key), "true")
	}
}

func parseRequestBody(r *http.Request) (*message.Message, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/octet-stream") {
		body, err := readBody(r)
		if err != nil {
			return nil, err
		}
		return &message.Message{BinData: body}, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	if hasCanonicalFields(raw) {
		body, _ := json.Marshal(raw)
		var w wireMessage
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("invalid canonical message: %w", err)
		}
		return fromWireMessage(&w)
	}

	if nd, ok := raw["ndarray"]; ok {
		t, err := parseNDArray(nd)
		if err != nil {
			return nil, err
		}
		return &message.Message{GTensors: []message.Tensor{*t}}, nil
	}

	if _, ok := raw["bin_data"]; ok {
		return nil, fmt.Errorf("bin_data should use application/octet-stream, not a JSON field")
	}

	return nil, fmt.Errorf("Bad Request, err: Have no legal member in json body.")
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, out *message.Message) {
	if strings.EqualFold(r.URL.Query().Get("return-ndarray"), "true") {
		if len(out.GTensors) != 1 {
			http.Error(w, "return-ndarray requires exactly one output tensor", http.StatusInternalServerError)
			return
		}
		nd, err := tensorToNDArray(&out.GTensors[0])
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "SUCCESS", "ndarray": nd})
		return
	}

	if out.Kind() == message.KindBin {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(out.BinData)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(s.encodeResponse(out))
}

func (s *Server) encodeResponse(out *message.Message) []byte {
	body, _ := json.Marshal(toWireMessage(out))
	return body
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.Eng.Online()
	writeStatus(w, http.StatusOK, "OK")
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	s.Eng.Offline()
	writeStatus(w, http.StatusOK, "OK")
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "OK")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.Eng.IsOnline() {
		writeStatus(w, http.StatusServiceUnavailable, "Service Unavailable")
		return
	}
	writeStatus(w, http.StatusOK, "OK")
}

func writeStatus(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": text})
}

// handleServerMetadata returns both config documents' YAML text with
// comments stripped, concatenated, per grps_handler.cc's
// GetServerMetadata.
func (s *Server) handleServerMetadata(w http.ResponseWriter, r *http.Request) {
	server, err := stripYAMLComments(s.ServerConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	inference, err := stripYAMLComments(s.InferenceConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":   "OK",
		"str_data": server + "\n" + inference,
	})
}

// handleModelMetadata returns the single named model's subtree, 404 if
// unknown, per grps_handler.cc's GetModelMetadata.
func (s *Server) handleModelMetadata(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("model_name")
	if name == "" {
		name = r.URL.Query().Get("name")
	}

	raw, err := os.ReadFile(s.InferenceConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var doc struct {
		Models []yaml.Node `yaml:"models"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, m := range doc.Models {
		var decoded map[string]any
		if err := m.Decode(&decoded); err != nil {
			continue
		}
		if n, _ := decoded["name"].(string); n == name {
			out, _ := yaml.Marshal(decoded)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK", "str_data": string(out)})
			return
		}
	}
	http.NotFound(w, r)
}

// stripYAMLComments re-renders a YAML file's content, dropping comments,
// mirroring the original's YAML::Dump(YAML::Load(text)) technique.
func stripYAMLComments(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return "", err
	}
	stripComments(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func stripComments(n *yaml.Node) {
	n.HeadComment = ""
	n.LineComment = ""
	n.FootComment = ""
	for _, c := range n.Content {
		stripComments(c)
	}
}

func (s *Server) handleMonitorMetrics(w http.ResponseWriter, r *http.Request) {
	s.Eng.Prom.Handler().ServeHTTP(w, r)
}

// handleMonitorSeries serves one named trend/CDF series as the monitor
// UI's chart data source.
func (s *Server) handleMonitorSeries(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		names := s.Eng.Agg.Names()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"series": names})
		return
	}
	snap := s.Eng.Agg.Snapshot(name)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// handleMonitorJS serves the minimal static asset the monitor UI's chart
// page loads; the UI itself is out of this core's scope per §1, so this
// is a documented stub rather than a full dashboard bundle.
func (s *Server) handleMonitorJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Content-Length", strconv.Itoa(len(monitorStubJS)))
	_, _ = w.Write([]byte(monitorStubJS))
}

const monitorStubJS = `// monitor UI chart data source: GET ` + PathMonitorSeries + `?name=<series>
console.log("grps monitor stub loaded");
`
