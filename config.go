// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/elliptic"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	flags "github.com/jessevdk/go-flags"
	"github.com/umbranet/umbrad/hosts"
	"github.com/umbranet/umbrad/internal/version"
	"github.com/umbranet/umbrad/sampleconfig"
)

const (
	defaultConfigFilename   = "umbrad.conf"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "umbrad.log"
	defaultLogLevel         = "info"
	defaultLogSize          = "10M"
	defaultPeerCertFilename = "peer.cert"
	defaultPeerKeyFilename  = "peer.key"
	defaultTLSCurve         = "P-256"
	defaultMaxOutbound      = 8
	defaultDialTimeout      = 30 * time.Second
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("umbrad", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// tlsCurves maps the supported names of the --tlscurve option to their curve.
var tlsCurves = map[string]elliptic.Curve{
	"P-256": elliptic.P256(),
	"P-384": elliptic.P384(),
	"P-521": elliptic.P521(),
}

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not caused
// by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// config defines the configuration options for umbrad.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	HomeDir       string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	LogSize       string `long:"logsize" description:"Maximum size of log file before it is rotated"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable file logging"`

	// Network settings.
	Localnet        bool          `long:"localnet" description:"Allow local and private peer addresses -- NOTE: Only use this on local test networks"`
	ExternalAddrs   []string      `long:"externaladdr" description:"Add a peer URL this node is reachable at"`
	Transports      []string      `long:"transport" description:"Enable a transport scheme {tcp, tcp+tls, tor, tor+tls} -- All dialable schemes are enabled when none is specified"`
	Seeds           []string      `long:"seed" description:"Add a peer URL to bootstrap the address ledger with"`
	ConnectPeers    []string      `long:"connect" description:"Add a peer URL to permanently stay connected to"`
	MaxOutbound     uint32        `long:"maxoutbound" description:"Number of outbound connection slots"`
	QuarantineLimit uint          `long:"quarantinelimit" description:"Number of failed connection attempts after which the host of a peer address is rejected -- 0 never rejects"`
	DialTimeout     time.Duration `long:"dialtimeout" description:"Maximum amount of time a dial, including the TLS handshake, may take"`

	// Tor settings.
	Proxy        string `long:"proxy" description:"Dial onion peers via the SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser    string `long:"proxyuser" default-mask:"-" description:"Username for proxy server"`
	ProxyPass    string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	TorIsolation bool   `long:"torisolation" description:"Enable Tor stream isolation by randomizing user credentials for each connection"`

	// TLS settings.
	PeerCert string `long:"peercert" description:"File containing the certificate presented to peers"`
	PeerKey  string `long:"peerkey" description:"File containing the certificate key"`
	TLSCurve string `long:"tlscurve" description:"Curve to use when generating the peer certificate {P-256, P-384, P-521}"`

	// Debugging options.
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Profile    string `long:"profile" description:"Enable HTTP profiling and the Prometheus /metrics endpoint on given [addr:]port -- NOTE: port must be between 1024 and 65535"`

	// The following fields are parsed from the above options during
	// validation.
	externalAddrs []hosts.PeerAddress
	seeds         []hosts.PeerAddress
	connectPeers  []hosts.PeerAddress
	transports    []string
	logSize       int64
	tlsCurve      elliptic.Curve
}

// cleanAndExpandPath expands environment variables and leading ~ in the passed
// path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser to
	// otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]

	var pathSeparators string
	if runtime.GOOS == "windows" {
		pathSeparators = string(os.PathSeparator) + "/"
	} else {
		pathSeparators = string(os.PathSeparator)
	}

	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}

	homeDir := ""
	var u *user.User
	var err error
	if userName == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(userName)
	}
	if err == nil {
		homeDir = u.HomeDir
	}
	// Fallback to CWD if user lookup fails or user has no home directory.
	if homeDir == "" {
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

// parseLogSize parses a log file size such as 512K, 10M or 1G into bytes.  A
// size without a suffix is in bytes.
func parseLogSize(s string) (int64, error) {
	multiplier := int64(1)
	num := strings.TrimSpace(s)
	if num != "" {
		switch strings.ToUpper(num[len(num)-1:]) {
		case "K":
			multiplier = 1 << 10
		case "M":
			multiplier = 1 << 20
		case "G":
			multiplier = 1 << 30
		}
		if multiplier != 1 {
			num = num[:len(num)-1]
		}
	}
	size, err := strconv.ParseInt(num, 10, 64)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("invalid log size %q", s)
	}
	return size * multiplier, nil
}

// parsePeerURLs parses the passed peer URLs and ensures each of them names a
// host and port that may be dialed.
func parsePeerURLs(option string, urls []string) ([]hosts.PeerAddress, error) {
	addrs, err := hosts.ParsePeerAddresses(urls)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", option, err)
	}
	for _, addr := range addrs {
		if _, ok := addr.PortNumber(); !ok || addr.Host == "" {
			return nil, fmt.Errorf("invalid --%s %s: a host and port are "+
				"required", option, addr)
		}
		if addr.Path != "" {
			return nil, fmt.Errorf("invalid --%s %s: a path is not allowed",
				option, addr)
		}
	}
	return addrs, nil
}

// parseTransports normalizes the passed transport schemes and ensures each of
// them is supported.  An empty result means every dialable scheme.
func parseTransports(schemes []string) ([]string, error) {
	supported := hosts.SupportedSchemes()
	transports := make([]string, 0, len(schemes))
	for _, scheme := range schemes {
		scheme = strings.ToLower(strings.TrimSpace(scheme))
		if !slices.Contains(supported, scheme) {
			return nil, fmt.Errorf("invalid --transport %q: supported "+
				"transports are %v", scheme, supported)
		}
		if !slices.Contains(transports, scheme) {
			transports = append(transports, scheme)
		}
	}
	return transports, nil
}

// usesTor returns whether or not any of the passed schemes dials onion
// services.
func usesTor(schemes []string) bool {
	return slices.Contains(schemes, hosts.SchemeTor) ||
		slices.Contains(schemes, hosts.SchemeTorTLS)
}

// createDefaultConfigFile creates a config file at the provided path using the
// sample config.
func createDefaultConfigFile(destPath string) error {
	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}

	return os.WriteFile(destPath, []byte(sampleconfig.Umbrad()), 0600)
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in umbrad functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig(appName string) (*config, []string, error) {
	// Default config.
	cfg := config{
		HomeDir:         defaultHomeDir,
		ConfigFile:      defaultConfigFile,
		LogDir:          defaultLogDir,
		LogSize:         defaultLogSize,
		DebugLevel:      defaultLogLevel,
		MaxOutbound:     defaultMaxOutbound,
		QuarantineLimit: hosts.DefaultQuarantineLimit,
		DialTimeout:     defaultDialTimeout,
		TLSCurve:        defaultTLSCurve,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory for umbrad if specified.  Since the home
	// directory is updated, other variables need to be updated to reflect the
	// new changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)

		if preCfg.ConfigFile == defaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir, defaultConfigFilename)
		} else {
			cfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		} else {
			cfg.LogDir = preCfg.LogDir
		}
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(cfg.ConfigFile) {
		if err := createDefaultConfigFile(cfg.ConfigFile); err != nil {
			str := fmt.Sprintf("failed to create default config file: %v",
				err)
			return nil, nil, errSuppressUsage(str)
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			err := fmt.Errorf("error parsing config file: %w", err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(cfg.HomeDir, 0700)
	if err != nil {
		str := "%s: failed to create home directory: %v"
		err := fmt.Errorf(str, funcName, err)
		return nil, nil, errSuppressUsage(err.Error())
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.logSize, err = parseLogSize(cfg.LogSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", funcName, err)
	}
	if !cfg.NoFileLogging {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		if err := initLogRotator(logFile, cfg.logSize); err != nil {
			return nil, nil, errSuppressUsage(err.Error())
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", funcName, err)
	}

	// Validate the peer URLs.
	cfg.externalAddrs, err = parsePeerURLs("externaladdr", cfg.ExternalAddrs)
	if err != nil {
		return nil, nil, err
	}
	cfg.seeds, err = parsePeerURLs("seed", cfg.Seeds)
	if err != nil {
		return nil, nil, err
	}
	cfg.connectPeers, err = parsePeerURLs("connect", cfg.ConnectPeers)
	if err != nil {
		return nil, nil, err
	}

	// Validate the transports.  Onion schemes can only be enabled with a
	// proxy to dial them through.
	cfg.transports, err = parseTransports(cfg.Transports)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Proxy == "" && usesTor(cfg.transports) {
		return nil, nil, fmt.Errorf("%s: the tor transports require "+
			"--proxy", funcName)
	}
	if cfg.Proxy == "" && (cfg.ProxyUser != "" || cfg.ProxyPass != "" ||
		cfg.TorIsolation) {

		return nil, nil, fmt.Errorf("%s: --proxyuser, --proxypass and "+
			"--torisolation require --proxy", funcName)
	}
	if cfg.TorIsolation && (cfg.ProxyUser != "" || cfg.ProxyPass != "") {
		return nil, nil, fmt.Errorf("%s: --torisolation overrides the "+
			"proxy credentials", funcName)
	}

	if cfg.DialTimeout < 0 {
		return nil, nil, fmt.Errorf("%s: --dialtimeout may not be negative",
			funcName)
	}

	// Validate the TLS settings.
	curve, ok := tlsCurves[cfg.TLSCurve]
	if !ok {
		return nil, nil, fmt.Errorf("%s: unsupported --tlscurve %q",
			funcName, cfg.TLSCurve)
	}
	cfg.tlsCurve = curve
	if cfg.PeerCert == "" {
		cfg.PeerCert = filepath.Join(cfg.HomeDir, defaultPeerCertFilename)
	}
	if cfg.PeerKey == "" {
		cfg.PeerKey = filepath.Join(cfg.HomeDir, defaultPeerKeyFilename)
	}
	cfg.PeerCert = cleanAndExpandPath(cfg.PeerCert)
	cfg.PeerKey = cleanAndExpandPath(cfg.PeerKey)

	if cfg.Profile != "" {
		cfg.Profile = portToLocalHostAddr(cfg.Profile)
		if err := validateProfileAddr(cfg.Profile); err != nil {
			return nil, nil, fmt.Errorf("%s: invalid --profile: %w",
				funcName, err)
		}
	}

	return &cfg, remainingArgs, nil
}
