// Package rpcserver implements the engine's UDP, YAML-encoded RPC
// surface: the operator UI's only way to drive the Orchestrator.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/kb3bmv/dpdce/internal/orchestrator"
)

// ProtocolVersion is the "yamlrpc" envelope's fixed version string.
const ProtocolVersion = "2.0"

// MaxPacketSize bounds a single request/response datagram.
const MaxPacketSize = 2048

// ReceiveTimeout bounds each blocking read, so the server loop can
// check for shutdown between reads.
const ReceiveTimeout = 3 * time.Second

// Request is the engine RPC envelope the operator UI sends.
type Request struct {
	YamlRPC string      `yaml:"yamlrpc"`
	ID      string      `yaml:"id"`
	Method  string      `yaml:"method"`
	Params  interface{} `yaml:"params,omitempty"`
}

// Response is the engine RPC envelope returned to the caller.
type Response struct {
	YamlRPC string      `yaml:"yamlrpc"`
	ID      string      `yaml:"id"`
	Result  interface{} `yaml:"result,omitempty"`
	Error   string      `yaml:"error,omitempty"`
}

// Server serves the engine's RPC methods over UDP against an
// Orchestrator.
type Server struct {
	Orch   *orchestrator.Orchestrator
	Logger *log.Logger
	conn   *net.UDPConn
}

// Listen binds addr (host:port) for the RPC server.
func Listen(addr string, orch *orchestrator.Orchestrator, logger *log.Logger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpcserver: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("rpcserver: listen %s: %w", addr, err)
	}
	return &Server{Orch: orch, Logger: logger, conn: conn}, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Close stops serving.
func (s *Server) Close() error { return s.conn.Close() }

// Serve processes requests until ctx is cancelled or the socket
// closes.
func (s *Server) Serve(ctx context.Context) error {
	buf := make([]byte, MaxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(ReceiveTimeout))
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpcserver: read: %w", err)
		}

		resp := s.handle(buf[:n])
		out, marshalErr := yaml.Marshal(resp)
		if marshalErr != nil {
			s.Logger.Error("rpcserver: marshal response", "err", marshalErr)
			continue
		}
		if _, err := s.conn.WriteToUDP(out, from); err != nil {
			s.Logger.Error("rpcserver: write response", "err", err)
		}
	}
}

func (s *Server) handle(raw []byte) Response {
	var req Request
	if err := yaml.Unmarshal(raw, &req); err != nil {
		return Response{YamlRPC: ProtocolVersion, Error: fmt.Sprintf("bad request: %v", err)}
	}

	result, err := s.dispatch(req)
	resp := Response{YamlRPC: ProtocolVersion, ID: req.ID}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) dispatch(req Request) (interface{}, error) {
	switch req.Method {
	case "calibrate":
		return "ok", s.Orch.Calibrate()
	case "reset":
		return "ok", s.Orch.Reset()
	case "trigger_run":
		return "ok", s.Orch.TriggerRun()
	case "adapt":
		return "ok", s.Orch.Adapt()
	case "restore_dump":
		dumpID, err := paramString(req.Params, "dump_id")
		if err != nil {
			return nil, err
		}
		return "ok", s.Orch.RestoreDump(dumpID)
	case "get_results":
		return s.Orch.GetResults(), nil
	default:
		return nil, fmt.Errorf("rpcserver: unknown method %q", req.Method)
	}
}

func paramString(params interface{}, key string) (string, error) {
	m, ok := params.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("rpcserver: missing params for %q", key)
	}
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("rpcserver: missing param %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), nil
	}
	return s, nil
}
