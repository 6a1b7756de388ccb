package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/vehiclecount/internal/watch"
)

func main() {
	var (
		addr     string
		secure   bool
		once     bool
		useH3    bool
		insecure bool
	)
	flag.StringVar(&addr, "addr", "localhost:8080", "Server host:port")
	flag.BoolVar(&secure, "tls", false, "Connect over TLS")
	flag.BoolVar(&once, "once", false, "Print the current stats and exit")
	flag.BoolVar(&useH3, "h3", false, "Use HTTP/3 for -once (implies -tls)")
	flag.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	flag.Parse()

	tlsConfig := &tls.Config{InsecureSkipVerify: insecure}

	if once {
		client := &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			Timeout:   10 * time.Second,
		}
		scheme := "http"
		if secure || useH3 {
			scheme = "https"
		}
		if useH3 {
			rt := &http3.RoundTripper{TLSClientConfig: tlsConfig}
			defer rt.Close()
			client.Transport = rt
		}

		list, err := watch.FetchStreams(context.Background(), client, scheme+"://"+addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fetch stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(watch.Summary(list))
		return
	}

	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	feedURL := url.URL{Scheme: scheme, Host: addr, Path: "/api/v1/streams/feed"}

	client := watch.NewClient(feedURL.String())
	client.SetTLSConfig(tlsConfig)

	p := tea.NewProgram(watch.NewModel(client, addr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Dashboard error: %v\n", err)
		os.Exit(1)
	}
}
