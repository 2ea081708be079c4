package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spigotdb/spigot/internal/model"
)

// serverURL holds the --server flag shared by the commands that talk to a
// running gateway.
var serverURL string

func resolveServerURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if env := os.Getenv("SPIGOT_SERVER"); env != "" {
		return strings.TrimRight(env, "/")
	}
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// resolveCredential returns the Authorization or X-API-Key value for CLI
// requests: an explicit flag first, then the environment.
func resolveCredential(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if tok := os.Getenv("SPIGOT_TOKEN"); tok != "" {
		return tok, nil
	}
	if key := os.Getenv("SPIGOT_API_KEY"); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no credential: pass --auth, or set SPIGOT_TOKEN (admin JWT from 'spigot token') or SPIGOT_API_KEY")
}

// apiRequest performs an authenticated request against the gateway and
// decodes the JSON response into out (when non-nil). Error envelopes become
// Go errors carrying the server's message.
func apiRequest(method, path, credential string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, resolveServerURL()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.HasPrefix(credential, "spg_") {
		req.Header.Set("X-API-Key", credential)
	} else {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is the server running?): %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var envelope model.ErrorResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			return fmt.Errorf("%s (HTTP %d)", envelope.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
