// ABOUTME: Device initialization and API login commands
// ABOUTME: Creates the device id and config, and stores the bearer token used for sync
package cli

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/harperreed/fieldsync/config"
	"github.com/harperreed/fieldsync/device"
	"github.com/harperreed/fieldsync/sink"
)

// InitCommand creates the device identity and writes the config file.
func InitCommand(cfgPath string, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	sinkKind := fs.String("sink", cfg.Sink, "Remote sink: http or charm")
	server := fs.String("server", cfg.Server, "Field API server URL")
	healthURL := fs.String("health-url", cfg.HealthURL, "Connectivity probe URL (default: <server>/health)")
	tenant := fs.String("tenant", cfg.TenantID, "Tenant ID written on synced records")
	user := fs.String("user", cfg.UserID, "User ID written on synced records")
	charmHost := fs.String("charm-host", cfg.CharmHost, "Charm server host")
	location := fs.String("location", cfg.Location.Provider, "Location provider: gpsd, static or none")
	gpsdAddr := fs.String("gpsd", cfg.Location.GPSDAddr, "gpsd address")
	lat := fs.Float64("lat", cfg.Location.Lat, "Latitude for the static provider")
	lng := fs.Float64("lng", cfg.Location.Lng, "Longitude for the static provider")
	_ = fs.Parse(args)

	cfg.Sink = *sinkKind
	cfg.Server = strings.TrimRight(*server, "/")
	cfg.HealthURL = *healthURL
	cfg.TenantID = *tenant
	cfg.UserID = *user
	cfg.CharmHost = *charmHost
	cfg.Location.Provider = *location
	cfg.Location.GPSDAddr = *gpsdAddr
	cfg.Location.Lat = *lat
	cfg.Location.Lng = *lng

	if err := cfg.Validate(); err != nil {
		return err
	}

	ident, err := device.LoadOrCreate(cfg.DeviceIDPath)
	if err != nil {
		return err
	}
	if ident.New {
		fmt.Printf("✓ Generated new device ID: %s\n", ident.ID)
	} else {
		fmt.Printf("✓ Device already initialized: %s\n", ident.ID)
	}

	if err := cfg.Save(cfgPath); err != nil {
		return err
	}
	fmt.Printf("✓ Configuration saved to %s\n", cfgPath)

	if cfg.Sink == config.SinkHTTP {
		fmt.Println("\nNext step: Run 'fieldsync login' to store your API token")
	}
	return nil
}

// LoginCommand stores a bearer token for the HTTP sink.
func LoginCommand(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "API token (prompted when omitted)")
	ttl := fs.Duration("expires-in", 0, "Token lifetime; 0 means it does not expire")
	_ = fs.Parse(args)

	raw := *token
	if raw == "" {
		var err error
		raw, err = promptToken()
		if err != nil {
			return err
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("token cannot be empty")
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if *ttl > 0 {
		tok.Expiry = time.Now().Add(*ttl)
	}
	if err := sink.SaveToken(cfg.TokenPath, tok); err != nil {
		return err
	}

	fmt.Printf("✓ Token saved to %s\n", cfg.TokenPath)
	if !tok.Expiry.IsZero() {
		fmt.Printf("✓ Token expires: %s\n", tok.Expiry.Format(time.RFC3339))
	}
	return nil
}

// promptToken reads the token without echo on a terminal, or a line from piped stdin.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return line, nil
	}

	fmt.Print("API token: ")
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return string(b), nil
}
