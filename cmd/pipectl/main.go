package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

const defaultAPIAddr = "http://127.0.0.1:8085"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pipectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() error {
	return fmt.Errorf(`usage:
  pipectl submit <channel-id> <origin> [title]
  pipectl job <job-id>
  pipectl jobs [channel-id] [stage]
  pipectl cancel <job-id>
  pipectl pause <channel-id>
  pipectl resume <channel-id>

set PIPECTL_API to override the api address (default %s)`, defaultAPIAddr)
}

func apiAddr() string {
	if addr := strings.TrimSpace(os.Getenv("PIPECTL_API")); addr != "" {
		return strings.TrimRight(addr, "/")
	}
	return defaultAPIAddr
}

func run(args []string) error {
	if len(args) == 0 {
		return usage()
	}

	client := httpclient.NewRestyHTTPClient(30 * time.Second)
	base := apiAddr()

	switch args[0] {
	case "submit":
		if len(args) < 3 {
			return usage()
		}
		body := map[string]string{"origin": args[2]}
		if len(args) > 3 {
			body["title"] = strings.Join(args[3:], " ")
		}
		resp, err := client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(base + "/v1/channels/" + args[1] + "/candidates")
		return render(resp, err)

	case "job":
		if len(args) != 2 {
			return usage()
		}
		resp, err := client.R().Get(base + "/v1/jobs/" + args[1])
		return render(resp, err)

	case "jobs":
		req := client.R()
		if len(args) > 1 && args[1] != "" {
			req.SetQueryParam("channel", args[1])
		}
		if len(args) > 2 && args[2] != "" {
			req.SetQueryParam("stage", args[2])
		}
		resp, err := req.Get(base + "/v1/jobs")
		return render(resp, err)

	case "cancel":
		if len(args) != 2 {
			return usage()
		}
		resp, err := client.R().Post(base + "/v1/jobs/" + args[1] + "/cancel")
		return render(resp, err)

	case "pause", "resume":
		if len(args) != 2 {
			return usage()
		}
		resp, err := client.R().Post(base + "/v1/channels/" + args[1] + "/" + args[0])
		return render(resp, err)

	default:
		return usage()
	}
}

func render(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	body := resp.Body()

	var pretty map[string]any
	if json.Unmarshal(body, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(strings.TrimSpace(string(body)))
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("api returned status %d", resp.StatusCode())
	}
	return nil
}
