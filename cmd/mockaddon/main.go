// Command mockaddon is the external collaborator spec.md §1 calls "the
// mock add-on used in tests": a tiny binary that dials the IPC port,
// performs the registration handshake, and, with --simulate, walks
// through AdapterAddedNotification, DeviceAddedNotification, and
// DevicePropertyChangedNotification so integration tests and manual
// end-to-end runs (spec.md §8 scenarios 2-4) have something to spawn.
//
// Grounded on _examples/original_source/mock-addon/src/main.rs
// (connect, create one adapter, run an event loop) minus its
// gateway_addon_rust SDK machinery, since here the wire protocol is
// spoken directly.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:9500", "IPC listener address")
		pluginID = flag.String("id", "mock", "plugin id to register as")
		simulate = flag.Bool("simulate", false, "walk through a scripted adapter/device/property sequence")
	)
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/", *addr), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := send(conn, envelope("pluginRegisterRequest", map[string]any{"pluginId": *pluginID})); err != nil {
		fail(err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		fail(err)
	}
	fmt.Printf("received: %s\n", data)

	if !*simulate {
		blockUntilClosed(conn)
		return
	}

	runScript(conn)
	blockUntilClosed(conn)
}

func runScript(conn *websocket.Conn) {
	steps := []struct {
		messageType string
		data        map[string]any
	}{
		{"adapterAddedNotification", map[string]any{"adapterId": "a"}},
		{"deviceAddedNotification", map[string]any{
			"adapterId": "a",
			"device": map[string]any{
				"id":    "d",
				"title": "D",
				"properties": map[string]any{
					"p": map[string]any{"name": "p", "type": "integer", "value": 0},
				},
			},
		}},
		{"devicePropertyChangedNotification", map[string]any{
			"adapterId": "a",
			"deviceId":  "d",
			"property":  map[string]any{"name": "p", "type": "integer", "value": 7},
		}},
	}

	for _, step := range steps {
		if err := send(conn, envelope(step.messageType, step.data)); err != nil {
			fail(err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func envelope(messageType string, data map[string]any) map[string]any {
	return map[string]any{"messageType": messageType, "data": data}
}

func send(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func blockUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
