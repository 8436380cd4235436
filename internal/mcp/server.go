// Package mcp exposes a live room session to operators as MCP tools.
package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"stagesync/internal/session"
)

type Server struct {
	loop *session.Loop
	mcp  *sdk.Server
}

func NewServer(loop *session.Loop, version string) *Server {
	s := &Server{
		loop: loop,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "stagesync",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}

// withAsset runs fn on the session goroutine against one asset.
func (s *Server) withAsset(ctx context.Context, assetID string, fn func(*session.Session, *session.Asset) error) error {
	if assetID == "" {
		return fmt.Errorf("asset is required")
	}
	return s.loop.Do(ctx, func(sess *session.Session) error {
		asset, err := sess.Asset(assetID)
		if err != nil {
			return err
		}
		return fn(sess, asset)
	})
}
