// Package log provides the levelled logger shared by every tailrace
// component. Components receive a Modular scoped to their own name so that
// output can be traced back to the sink or input that produced it.
package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Logger level constants.
const (
	LogOff   int = 0
	LogFatal int = 1
	LogError int = 2
	LogWarn  int = 3
	LogInfo  int = 4
	LogDebug int = 5
	LogTrace int = 6
)

func levelToString(i int) string {
	switch i {
	case LogOff:
		return "OFF"
	case LogFatal:
		return "FATAL"
	case LogError:
		return "ERROR"
	case LogWarn:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	case LogTrace:
		return "TRACE"
	}
	return "INFO"
}

func stringToLevel(level string) int {
	switch strings.ToUpper(level) {
	case "OFF":
		return LogOff
	case "FATAL":
		return LogFatal
	case "ERROR":
		return LogError
	case "WARN":
		return LogWarn
	case "INFO":
		return LogInfo
	case "DEBUG":
		return LogDebug
	case "TRACE":
		return LogTrace
	}
	return LogInfo
}

//------------------------------------------------------------------------------

// Modular is a log interface carried by components, allowing fields to be
// layered onto child loggers.
type Modular interface {
	WithFields(fields map[string]string) Modular

	Fatalf(format string, v ...any)
	Errorf(format string, v ...any)
	Warnf(format string, v ...any)
	Infof(format string, v ...any)
	Debugf(format string, v ...any)
	Tracef(format string, v ...any)
}

//------------------------------------------------------------------------------

// Config holds configuration options for a logger object.
type Config struct {
	LogLevel     string            `yaml:"level"`
	Format       string            `yaml:"format"`
	AddTimeStamp bool              `yaml:"add_timestamp"`
	StaticFields map[string]string `yaml:"static_fields"`
}

// NewConfig returns a logger config with default values.
func NewConfig() Config {
	return Config{
		LogLevel:     "INFO",
		Format:       "logfmt",
		AddTimeStamp: false,
		StaticFields: map[string]string{
			"@service": "tailrace",
		},
	}
}

//------------------------------------------------------------------------------

// Logger is a levelled logger with modular fields.
type Logger struct {
	stream       io.Writer
	fields       map[string]string
	format       string
	addTimestamp bool
	level        int
	formatter    logFormatter
}

// New returns a logger from a config, or an error if the config is invalid.
func New(stream io.Writer, conf Config) (Modular, error) {
	fields := map[string]string{}
	for k, v := range conf.StaticFields {
		fields[k] = v
	}

	l := &Logger{
		stream:       stream,
		fields:       fields,
		format:       conf.Format,
		addTimestamp: conf.AddTimeStamp,
		level:        stringToLevel(conf.LogLevel),
	}

	var err error
	if l.formatter, err = getFormatter(conf.Format, conf.AddTimeStamp, fields); err != nil {
		return nil, err
	}
	return l, nil
}

// Noop returns a logger that writes nothing.
func Noop() Modular {
	return &Logger{
		stream:    io.Discard,
		fields:    map[string]string{},
		level:     LogOff,
		format:    "logfmt",
		formatter: logfmtFormatter(false, nil),
	}
}

// WithFields returns a copy of the logger with extra fields added to its
// output.
func (l *Logger) WithFields(fields map[string]string) Modular {
	newFields := make(map[string]string, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	formatter, _ := getFormatter(l.format, l.addTimestamp, newFields)
	return &Logger{
		stream:       l.stream,
		fields:       newFields,
		level:        l.level,
		format:       l.format,
		addTimestamp: l.addTimestamp,
		formatter:    formatter,
	}
}

//------------------------------------------------------------------------------

type logFormatter func(w io.Writer, message, level string, other ...any)

func jsonFormatter(addTimestamp bool, fields map[string]string) logFormatter {
	var staticFieldsRawJSON string
	if len(fields) > 0 {
		jBytes, _ := json.Marshal(fields)
		if len(jBytes) > 2 {
			staticFieldsRawJSON = string(jBytes[1:len(jBytes)-1]) + ","
		}
	}

	return func(w io.Writer, message, level string, other ...any) {
		message = strings.TrimSuffix(message, "\n")
		timestampStr := ""
		if addTimestamp {
			timestampStr = fmt.Sprintf("\"@timestamp\":\"%v\",", time.Now().Format(time.RFC3339))
		}
		fmt.Fprintf(
			w,
			"{%v%v\"level\":\"%v\",\"message\":%v}\n",
			timestampStr, staticFieldsRawJSON, level,
			strconv.QuoteToASCII(fmt.Sprintf(message, other...)),
		)
	}
}

func logfmtFormatter(addTimestamp bool, fields map[string]string) logFormatter {
	var staticFieldsRaw string
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		for _, k := range keys {
			v := fields[k]
			if strings.Contains(v, " ") {
				v = strconv.QuoteToASCII(v)
			}
			fmt.Fprintf(&buf, "%v=%v ", k, v)
		}
		staticFieldsRaw = buf.String()
	}

	return func(w io.Writer, message, level string, other ...any) {
		message = strings.TrimSuffix(message, "\n")
		timestampStr := ""
		if addTimestamp {
			timestampStr = fmt.Sprintf("timestamp=\"%v\" ", time.Now().Format(time.RFC3339))
		}
		fmt.Fprintf(
			w,
			"%v%vlevel=%v msg=%v\n",
			timestampStr, staticFieldsRaw, level,
			strconv.QuoteToASCII(fmt.Sprintf(message, other...)),
		)
	}
}

func getFormatter(format string, addTimestamp bool, fields map[string]string) (logFormatter, error) {
	switch format {
	case "json":
		return jsonFormatter(addTimestamp, fields), nil
	case "logfmt":
		return logfmtFormatter(addTimestamp, fields), nil
	}
	return nil, fmt.Errorf("log format '%v' not recognized", format)
}

//------------------------------------------------------------------------------

func (l *Logger) write(message, level string, other ...any) {
	l.formatter(l.stream, message, level, other...)
}

// Fatalf prints a fatal message to the stream. Does NOT cause panic.
func (l *Logger) Fatalf(format string, v ...any) {
	if LogFatal <= l.level {
		l.write(format, "FATAL", v...)
	}
}

// Errorf prints an error message to the stream.
func (l *Logger) Errorf(format string, v ...any) {
	if LogError <= l.level {
		l.write(format, "ERROR", v...)
	}
}

// Warnf prints a warning message to the stream.
func (l *Logger) Warnf(format string, v ...any) {
	if LogWarn <= l.level {
		l.write(format, "WARN", v...)
	}
}

// Infof prints an information message to the stream.
func (l *Logger) Infof(format string, v ...any) {
	if LogInfo <= l.level {
		l.write(format, "INFO", v...)
	}
}

// Debugf prints a debug message to the stream.
func (l *Logger) Debugf(format string, v ...any) {
	if LogDebug <= l.level {
		l.write(format, "DEBUG", v...)
	}
}

// Tracef prints a trace message to the stream.
func (l *Logger) Tracef(format string, v ...any) {
	if LogTrace <= l.level {
		l.write(format, "TRACE", v...)
	}
}
