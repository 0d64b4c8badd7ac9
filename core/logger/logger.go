package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the application-wide logger.
var Logger *zap.Logger

// componentNameKey is a context key for storing the component name.
type componentNameKeyType string

const componentNameKey componentNameKeyType = "componentName"

// level backs Logger so verbosity can change without rebuilding it.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func init() {
	var err error
	Logger, err = build(level)
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(Logger)
}

func build(lvl zap.AtomicLevel) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = lvl
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	return config.Build()
}

// SetLevel changes the verbosity of Logger ("debug", "info", "warn", "error").
func SetLevel(name string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(lvl)
	return nil
}

// getComponentNameFromContext extracts the component name from the context.
func getComponentNameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(componentNameKey).(string); ok {
		return name
	}
	return "unknown"
}

// WithComponentName creates a new context with the component name set.
func WithComponentName(ctx context.Context, componentName string) context.Context {
	return context.WithValue(ctx, componentNameKey, componentName)
}

// Named returns Logger scoped to a component, for loops that log without a context.
func Named(componentName string) *zap.Logger {
	return Logger.With(zap.String("component", componentName))
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Info(msg, append(fields, zap.String("component", getComponentNameFromContext(ctx)))...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Warn(msg, append(fields, zap.String("component", getComponentNameFromContext(ctx)))...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Error(msg, append(fields, zap.String("component", getComponentNameFromContext(ctx)))...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Fatal(msg, append(fields, zap.String("component", getComponentNameFromContext(ctx)))...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Debug(msg, append(fields, zap.String("component", getComponentNameFromContext(ctx)))...)
}

// SetLogger allows external packages to set the internal zap.Logger instance.
// This is primarily for testing purposes.
func SetLogger(l *zap.Logger) {
	Logger = l
}
