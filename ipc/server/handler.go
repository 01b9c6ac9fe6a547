package server

import (
	"fmt"
	"github.com/ValentinKolb/uio/ipc/common"
	"github.com/ValentinKolb/uio/ipc/transport"
	"os"
)

// IRequestHandler reacts to decoded requests. Calls for all connections happen on a
// single goroutine, so implementations need no locking for their own state.
type IRequestHandler interface {
	// HandleRequest processes one request. The handler owns caps and must close what it
	// does not keep. A returned error tears down conn (or the server for process severity).
	HandleRequest(conn *Connection, req common.Request, caps []*os.File) error
	// HandleClose is called once after conn was removed from the server
	HandleClose(conn *Connection)
}

// NewAnnounceHandler creates the default handler: it accepts one announcement per
// connection and answers with AnnounceAccepted
func NewAnnounceHandler() IRequestHandler {
	return &announceHandler{}
}

// announceHandler implements IRequestHandler for the announce protocol
type announceHandler struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see server.IRequestHandler)
// --------------------------------------------------------------------------

func (h *announceHandler) HandleRequest(conn *Connection, req common.Request, caps []*os.File) error {
	// the announce protocol does not use capabilities
	defer transport.CloseFiles(caps)

	switch req.ReqType {
	case common.ReqTAnnounce:
		if err := conn.Announce(req.Name); err != nil {
			return err
		}
		Logger.Infof("client %s connected", req.Name)
		return conn.Send(*common.NewAnnounceAcceptedEvent(), nil)
	default:
		return &transport.ProtocolError{Op: "dispatch", Reason: fmt.Sprintf("unexpected request %s", req.ReqType)}
	}
}

func (h *announceHandler) HandleClose(conn *Connection) {
	if conn.State() == StateAnnounced {
		Logger.Infof("client %s disconnected", conn.Name())
	} else {
		Logger.Debugf("anonymous connection %d closed", conn.ID())
	}
}
