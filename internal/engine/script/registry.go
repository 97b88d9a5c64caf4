// Package script evaluates transition guards and script-task bodies.
// Compiled scripts are cached by source hash; the registry dispatches on
// the language key so additional environments can be registered
package script

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kode4food/paisley/internal/util"
	"github.com/kode4food/paisley/pkg/api"
)

type (
	// Registry manages script environments for different languages
	Registry struct {
		envs map[string]Environment
	}

	// Environment defines the interface for script environments
	Environment interface {
		// Validate checks if a script is syntactically valid
		Validate(src string) error

		// Compile compiles a script and returns the compiled form
		Compile(cfg *api.ScriptConfig) (Compiled, error)

		// ExecuteScript executes a compiled script against the variables
		ExecuteScript(c Compiled, vars api.Variables) (any, error)

		// EvaluatePredicate evaluates a compiled predicate against the
		// variables
		EvaluatePredicate(c Compiled, vars api.Variables) (bool, error)
	}

	// Compiled represents a compiled script for any supported language
	Compiled any

	compileFunc[T any] func(cfg *api.ScriptConfig) (T, error)

	compiler[T any] struct {
		cache *util.LRUCache[T]
		build compileFunc[T]
	}
)

var ErrUnsupportedLanguage = errors.New("unsupported script language")

// NewRegistry creates a script registry with the Lua environment
func NewRegistry() *Registry {
	return &Registry{
		envs: map[string]Environment{
			api.ScriptLangLua: NewLuaEnv(),
		},
	}
}

func (r *Registry) Register(language string, env Environment) {
	r.envs[language] = env
}

// Get returns the script environment for the given language
func (r *Registry) Get(language string) (Environment, error) {
	env, ok := r.envs[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return env, nil
}

// Compile compiles a script config
func (r *Registry) Compile(cfg *api.ScriptConfig) (Compiled, error) {
	if cfg == nil {
		return nil, nil
	}
	env, err := r.Get(cfg.Language)
	if err != nil {
		return nil, err
	}
	return env.Compile(cfg)
}

// Execute compiles and runs a script config against the variables
func (r *Registry) Execute(
	cfg *api.ScriptConfig, vars api.Variables,
) (any, error) {
	env, err := r.Get(cfg.Language)
	if err != nil {
		return nil, err
	}
	c, err := env.Compile(cfg)
	if err != nil {
		return nil, err
	}
	return env.ExecuteScript(c, vars)
}

// Evaluate compiles and evaluates a predicate config against the variables
func (r *Registry) Evaluate(
	cfg *api.ScriptConfig, vars api.Variables,
) (bool, error) {
	env, err := r.Get(cfg.Language)
	if err != nil {
		return false, err
	}
	c, err := env.Compile(cfg)
	if err != nil {
		return false, err
	}
	return env.EvaluatePredicate(c, vars)
}

func newCompiler[T any](size int, build compileFunc[T]) *compiler[T] {
	return &compiler[T]{
		cache: util.NewLRUCache[T](size),
		build: build,
	}
}

func (c *compiler[T]) Validate(src string) error {
	_, err := c.Compile(&api.ScriptConfig{Source: src})
	return err
}

func (c *compiler[T]) Compile(cfg *api.ScriptConfig) (Compiled, error) {
	if cfg == nil || cfg.Source == "" {
		return nil, nil
	}
	return c.cache.Get(hashScript(cfg.Source), func() (T, error) {
		return c.build(cfg)
	})
}

func hashScript(src string) string {
	h := sha256.Sum256([]byte(src))
	return hex.EncodeToString(h[:])
}
