package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/mx-space/cloud/internal/cloud"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInvokeTimeout = 30 * time.Second

	layerSourcefile = "layer/index.ts"
	timeoutReason   = "serverless-timeout"
)

// Serverless runs functions in an embedded JavaScript runtime. The shared
// layer is compiled once with esbuild; each invocation gets a fresh VM.
type Serverless struct {
	logger  *zap.Logger
	timeout time.Duration

	compiles singleflight.Group

	mu        sync.RWMutex
	layer     *sharedLayer
	functions map[string]struct{}
}

type sharedLayer struct {
	digest string
	code   string
}

var _ cloud.Serverless = (*Serverless)(nil)

func NewServerless(logger *zap.Logger, timeout time.Duration) *Serverless {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &Serverless{
		logger:    logger,
		timeout:   timeout,
		functions: make(map[string]struct{}),
	}
}

func (s *Serverless) CreateSharedLayer(ctx context.Context, layerCode string) error {
	const op = "createSharedLayer"
	if err := ctx.Err(); err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, "", err)
	}

	sum := sha256.Sum256([]byte(layerCode))
	digest := hex.EncodeToString(sum[:])

	s.mu.RLock()
	current := s.layer
	s.mu.RUnlock()
	if current != nil && current.digest == digest {
		return nil
	}

	// Concurrent publishes of the same code compile and evaluate it once.
	v, err, _ := s.compiles.Do(digest, func() (interface{}, error) {
		code, err := compileLayer(layerCode)
		if err != nil {
			return "", err
		}
		if _, err := s.load(ctx, code); err != nil {
			return "", err
		}
		return code, nil
	})
	if err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, "", err)
	}
	code := v.(string)

	s.mu.Lock()
	s.layer = &sharedLayer{digest: digest, code: code}
	s.mu.Unlock()

	s.logger.Info("shared layer published", zap.String("digest", digest[:12]), zap.Int("bytes", len(code)))
	return nil
}

// CreateFunction registers name against the shared layer. Registering the
// same name twice is allowed.
func (s *Serverless) CreateFunction(ctx context.Context, functionName string) error {
	const op = "createFunction"
	if err := ctx.Err(); err != nil {
		return cloud.Wrap(cloud.KindDeployment, op, functionName, err)
	}
	name := strings.TrimSpace(functionName)
	if name == "" {
		return cloud.Errorf(cloud.KindDeployment, op, functionName, "function name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layer == nil {
		return cloud.Errorf(cloud.KindDeployment, op, name, "no shared layer")
	}
	s.functions[name] = struct{}{}
	return nil
}

func (s *Serverless) InvokeFunction(ctx context.Context, functionName string) error {
	_, err := s.Invoke(ctx, functionName, nil)
	return err
}

// HasFunction reports whether name has been registered.
func (s *Serverless) HasFunction(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.functions[name]
	return ok
}

// Functions returns the registered names in sorted order.
func (s *Serverless) Functions() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.functions))
	for name := range s.functions {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Invoke runs a registered function with payload, a JSON document or empty,
// as its single argument and returns the exported result. Functions are
// looked up as module.exports.functions[name], then module.exports[name].
func (s *Serverless) Invoke(ctx context.Context, functionName string, payload []byte) (any, error) {
	const op = "invokeFunction"

	s.mu.RLock()
	_, registered := s.functions[functionName]
	layer := s.layer
	s.mu.RUnlock()
	if !registered || layer == nil {
		return nil, cloud.NewError(cloud.KindNotFound, op, functionName, nil)
	}

	var arg any
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &arg); err != nil {
			return nil, cloud.Errorf(cloud.KindInvocation, op, functionName, "invalid payload: %v", err)
		}
	}

	start := time.Now()
	vm, err := s.load(ctx, layer.code)
	if err != nil {
		return nil, cloud.Wrap(cloud.KindInvocation, op, functionName, err)
	}
	defer s.watch(ctx, vm)()

	fn, ok := goja.AssertFunction(lookupExport(vm, functionName))
	if !ok {
		return nil, cloud.Errorf(cloud.KindInvocation, op, functionName, "function is not exported by the shared layer")
	}

	var argVal goja.Value = goja.Undefined()
	if arg != nil {
		argVal = vm.ToValue(arg)
	}
	value, err := fn(goja.Undefined(), argVal)
	if err != nil {
		return nil, cloud.Wrap(cloud.KindInvocation, op, functionName, normalizeRuntimeError(err))
	}
	out, err := resolveResultValue(value)
	if err != nil {
		return nil, cloud.Wrap(cloud.KindInvocation, op, functionName, err)
	}

	s.logger.Debug("function invoked",
		zap.String("function", functionName),
		zap.Duration("latency", time.Since(start)),
	)
	return out, nil
}

// load evaluates the compiled layer in a new VM under the invoke timeout.
func (s *Serverless) load(ctx context.Context, code string) (*goja.Runtime, error) {
	vm := goja.New()
	s.installConsole(vm)

	stop := s.watch(ctx, vm)
	defer stop()

	bootstrap := "var module={exports:{}}; var exports=module.exports;\n" + code + "\n"
	if _, err := vm.RunString(bootstrap); err != nil {
		return nil, normalizeRuntimeError(err)
	}
	return vm, nil
}

// watch interrupts vm when ctx ends or the timeout elapses. The returned
// func releases the watcher.
func (s *Serverless) watch(ctx context.Context, vm *goja.Runtime) func() {
	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt(timeoutReason)
	})
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		timer.Stop()
		close(done)
		vm.ClearInterrupt()
	}
}

func (s *Serverless) installConsole(vm *goja.Runtime) {
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, s.consoleMethod(level))
	}
	_ = vm.Set("console", console)
}

func (s *Serverless) consoleMethod(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, consoleValueToString(arg.Export()))
		}
		line := strings.Join(parts, " ")
		switch level {
		case "warn":
			s.logger.Warn(line, zap.String("source", "sandbox"))
		case "error":
			s.logger.Error(line, zap.String("source", "sandbox"))
		case "debug":
			s.logger.Debug(line, zap.String("source", "sandbox"))
		default:
			s.logger.Info(line, zap.String("source", "sandbox"))
		}
		return goja.Undefined()
	}
}

func compileLayer(source string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderTS,
		Format:     api.FormatCommonJS,
		Target:     api.ES2020,
		Sourcefile: layerSourcefile,
		Charset:    api.CharsetUTF8,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		if msg.Location != nil {
			return "", fmt.Errorf("transform failed: %s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
		}
		return "", fmt.Errorf("transform failed: %s", msg.Text)
	}
	return string(result.Code), nil
}

func lookupExport(vm *goja.Runtime, name string) goja.Value {
	module := vm.Get("module")
	if module == nil {
		return goja.Undefined()
	}
	exports := module.ToObject(vm).Get("exports")
	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return goja.Undefined()
	}
	obj := exports.ToObject(vm)
	if functions := obj.Get("functions"); functions != nil && !goja.IsUndefined(functions) && !goja.IsNull(functions) {
		if fn := functions.ToObject(vm).Get(name); fn != nil && !goja.IsUndefined(fn) {
			return fn
		}
	}
	if fn := obj.Get(name); fn != nil {
		return fn
	}
	return goja.Undefined()
}

func resolveResultValue(value goja.Value) (any, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	if p, ok := value.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStatePending:
			return nil, errors.New("function returned a pending promise")
		case goja.PromiseStateRejected:
			return nil, errors.New(runtimeErrorMessage(p.Result()))
		default:
			return resolveResultValue(p.Result())
		}
	}
	return value.Export(), nil
}

func normalizeRuntimeError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case string:
			if v == timeoutReason {
				return context.DeadlineExceeded
			}
		case error:
			return v
		}
		return errors.New("execution interrupted")
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return errors.New(runtimeErrorMessage(exception.Value()))
	}
	return err
}

func runtimeErrorMessage(value goja.Value) string {
	if value == nil || goja.IsNull(value) || goja.IsUndefined(value) {
		return "unknown runtime error"
	}
	if obj, ok := value.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			if text := strings.TrimSpace(msg.String()); text != "" {
				return text
			}
		}
	}
	switch v := value.Export().(type) {
	case string:
		return v
	case error:
		return v.Error()
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
		return consoleValueToString(v)
	default:
		return value.String()
	}
}

func consoleValueToString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case error:
		return x.Error()
	case []byte:
		return string(x)
	default:
		b, err := json.Marshal(x)
		if err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", x)
	}
}
