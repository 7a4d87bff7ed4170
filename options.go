package toolmux

import (
	"path/filepath"

	"github.com/toolmux/toolmux/src/config"
	"github.com/toolmux/toolmux/src/postprocess"
	"github.com/toolmux/toolmux/src/registry"
	"github.com/toolmux/toolmux/src/repository"
	"github.com/toolmux/toolmux/src/search"
	"github.com/toolmux/toolmux/src/templates"

	protocli "github.com/toolmux/toolmux/src/protocols/cli"
	protographql "github.com/toolmux/toolmux/src/protocols/graphql"
	protohttp "github.com/toolmux/toolmux/src/protocols/http"
	protomcp "github.com/toolmux/toolmux/src/protocols/mcp"
	protosse "github.com/toolmux/toolmux/src/protocols/sse"
	protostreamable "github.com/toolmux/toolmux/src/protocols/streamable"
	prototcp "github.com/toolmux/toolmux/src/protocols/tcp"
	prototext "github.com/toolmux/toolmux/src/protocols/text"
	protows "github.com/toolmux/toolmux/src/protocols/websocket"
)

type options struct {
	cfg        *config.Config
	configDir  string
	repo       repository.ToolRepository
	search     search.Strategy
	protocols  map[string]registry.Protocol
	processors []postprocess.PostProcessor
	logger     func(format string, args ...any)
}

// Option customizes client construction.
type Option func(*options) error

// WithConfig supplies a prebuilt configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile loads the configuration from a JSON or YAML file. Relative
// loader paths in the file resolve against the file's directory.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.cfg = cfg
		o.configDir = filepath.Dir(path)
		return nil
	}
}

// WithVariables merges variables into the configuration, overriding values
// loaded from a config file.
func WithVariables(vars map[string]string) Option {
	return func(o *options) error {
		if o.cfg == nil {
			o.cfg = config.New()
		}
		if o.cfg.Variables == nil {
			o.cfg.Variables = make(map[string]string)
		}
		for k, v := range vars {
			o.cfg.Variables[k] = v
		}
		return nil
	}
}

// WithRepository replaces the default in-memory tool repository.
func WithRepository(repo repository.ToolRepository) Option {
	return func(o *options) error {
		o.repo = repo
		return nil
	}
}

// WithSearchStrategy replaces the default tag-and-description search.
func WithSearchStrategy(s search.Strategy) Option {
	return func(o *options) error {
		o.search = s
		return nil
	}
}

// WithProtocol registers a protocol for a type tag, overriding the built-in
// implementation when the tag collides.
func WithProtocol(typeTag string, p registry.Protocol) Option {
	return func(o *options) error {
		if o.protocols == nil {
			o.protocols = make(map[string]registry.Protocol)
		}
		o.protocols[typeTag] = p
		return nil
	}
}

// WithLogger installs a printf-style logger on the client and the built-in
// protocols. The default is silence.
func WithLogger(log func(format string, args ...any)) Option {
	return func(o *options) error {
		o.logger = log
		return nil
	}
}

// WithPostProcessors appends processors after the ones declared in the
// configuration.
func WithPostProcessors(ps ...postprocess.PostProcessor) Option {
	return func(o *options) error {
		o.processors = append(o.processors, ps...)
		return nil
	}
}

// defaultProtocols builds the built-in protocol set. dec is the registry
// under construction; plugins use it to decode nested call templates found
// in discovery payloads.
func defaultProtocols(dec templates.Decoder, log func(format string, args ...any)) map[string]registry.Protocol {
	return map[string]registry.Protocol{
		templates.TypeHTTP:       protohttp.New(nil, dec).WithLogger(log),
		templates.TypeSSE:        protosse.New(nil, dec).WithLogger(log),
		templates.TypeHTTPStream: protostreamable.New(nil, dec).WithLogger(log),
		templates.TypeCLI:        protocli.New(dec).WithLogger(log),
		templates.TypeText:       prototext.New(dec).WithLogger(log),
		templates.TypeTCP:        prototcp.New(dec).WithLogger(log),
		templates.TypeWebSocket:  protows.New(nil, dec).WithLogger(log),
		templates.TypeGraphQL:    protographql.New().WithLogger(log),
		templates.TypeMCP:        protomcp.New().WithLogger(log),
	}
}
