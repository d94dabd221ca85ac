// Package config implements the application configuration, backed by a
// filesystem for persistence.
package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/fwguard/firewall/types"
)

// Config represents the application configuration.
type Config struct {
	Firewall Firewall
	Guard    Guard
	// Rules is the ordered set of port-blocking rules applied by a guarded
	// run.
	Rules []Rule

	fs   vfs.FileSystem
	path string
}

// Firewall defines firewall-specific configuration options.
type Firewall struct {
	// Type is the firewall executor used on this system.
	Type sql.Null[types.ExecutorType] `json:"type"`
	// Chain is the name of the managed chain.
	Chain sql.Null[string] `json:"chain"`
	// Policy is the default chain policy expected before a run may start.
	Policy sql.Null[types.Action] `json:"policy"`
}

// Guard defines options of the guarded change orchestration.
type Guard struct {
	// ConfirmWindow is how long an applied change waits for operator
	// confirmation before it is rolled back automatically.
	ConfirmWindow sql.Null[time.Duration] `json:"confirm_window"`
	// SnapshotDir overrides the directory where chain snapshots are stored.
	SnapshotDir sql.Null[string] `json:"snapshot_dir"`
}

// Rule is one configured port-blocking rule.
type Rule struct {
	Protocol    types.Protocol `json:"protocol"`
	Port        uint16         `json:"port"`
	Description string         `json:"description,omitempty"`
}

// NewConfig creates a new Config instance with the specified filesystem and
// configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem. If the
// file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}

	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// ChangeItems converts the configured rules into the ordered change set a
// guarded run applies.
func (c *Config) ChangeItems() []types.ChangeItem {
	items := make([]types.ChangeItem, 0, len(c.Rules))
	for _, r := range c.Rules {
		items = append(items, types.ChangeItem{
			Protocol:    r.Protocol,
			Port:        r.Port,
			Action:      types.ChangeBlock,
			Description: r.Description,
		})
	}
	return items
}

type cfgWrapper struct {
	Firewall fwCfgWrapper    `json:"firewall"`
	Guard    guardCfgWrapper `json:"guard"`
	Rules    []Rule          `json:"rules,omitempty"`
}
type fwCfgWrapper struct {
	Type   string `json:"type,omitempty"`
	Chain  string `json:"chain,omitempty"`
	Policy string `json:"policy,omitempty"`
}
type guardCfgWrapper struct {
	ConfirmWindow string `json:"confirm_window,omitempty"`
	SnapshotDir   string `json:"snapshot_dir,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{Rules: c.Rules}

	if c.Firewall.Type.Valid {
		w.Firewall.Type = string(c.Firewall.Type.V)
	}
	if c.Firewall.Chain.Valid {
		w.Firewall.Chain = c.Firewall.Chain.V
	}
	if c.Firewall.Policy.Valid {
		w.Firewall.Policy = string(c.Firewall.Policy.V)
	}

	if c.Guard.ConfirmWindow.Valid {
		w.Guard.ConfirmWindow = c.Guard.ConfirmWindow.V.String()
	}
	if c.Guard.SnapshotDir.Valid {
		w.Guard.SnapshotDir = c.Guard.SnapshotDir.V
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Firewall.Type != "" {
		et, err := types.ExecutorTypeFromString(w.Firewall.Type)
		if err != nil {
			return err
		}
		c.Firewall.Type = sql.Null[types.ExecutorType]{V: et, Valid: true}
	}
	if w.Firewall.Chain != "" {
		c.Firewall.Chain = sql.Null[string]{V: w.Firewall.Chain, Valid: true}
	}
	if w.Firewall.Policy != "" {
		policy := types.Action(w.Firewall.Policy)
		if policy != types.ActionAccept && policy != types.ActionDrop {
			return fmt.Errorf("invalid chain policy '%s'", w.Firewall.Policy)
		}
		c.Firewall.Policy = sql.Null[types.Action]{V: policy, Valid: true}
	}

	if w.Guard.ConfirmWindow != "" {
		dur, err := time.ParseDuration(w.Guard.ConfirmWindow)
		if err != nil {
			return fmt.Errorf("failed parsing confirmation window: %w", err)
		}
		c.Guard.ConfirmWindow = sql.Null[time.Duration]{V: dur, Valid: true}
	}
	if w.Guard.SnapshotDir != "" {
		c.Guard.SnapshotDir = sql.Null[string]{V: w.Guard.SnapshotDir, Valid: true}
	}

	for _, r := range w.Rules {
		if _, err := types.ProtocolFromString(string(r.Protocol)); err != nil {
			return fmt.Errorf("invalid rule %s/%d: %w", r.Protocol, r.Port, err)
		}
	}
	c.Rules = w.Rules

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
// The default rule set blocks the VMware Workstation service ports.
func (c *Config) SetDefaults() {
	if !c.Firewall.Type.Valid {
		c.Firewall.Type = sql.Null[types.ExecutorType]{V: types.ExecutorIPTables, Valid: true}
	}
	if !c.Firewall.Chain.Valid {
		c.Firewall.Chain = sql.Null[string]{V: "INPUT", Valid: true}
	}
	if !c.Firewall.Policy.Valid {
		c.Firewall.Policy = sql.Null[types.Action]{V: types.ActionAccept, Valid: true}
	}
	if !c.Guard.ConfirmWindow.Valid {
		c.Guard.ConfirmWindow = sql.Null[time.Duration]{V: 5 * time.Minute, Valid: true}
	}
	if len(c.Rules) == 0 {
		c.Rules = []Rule{
			{Protocol: types.ProtocolTCP, Port: 902, Description: "VMware Authentication Daemon"},
			{Protocol: types.ProtocolUDP, Port: 902, Description: "VMware Authentication Daemon (UDP)"},
			{Protocol: types.ProtocolTCP, Port: 912, Description: "VMware Authorization Service"},
			{Protocol: types.ProtocolTCP, Port: 8222, Description: "VMware Management Interface (HTTP)"},
			{Protocol: types.ProtocolTCP, Port: 8333, Description: "VMware Management Interface (HTTPS)"},
		}
	}
}
