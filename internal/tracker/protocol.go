package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Requests and replies are newline separated lines, one request per
// connection:
//
//	SET_FILE\n<name>\n<addr>\n   ->  OK\n
//	GET_PEERS\n<name>\n          ->  PEERS\n<addr>\n...   (then close)
const (
	cmdSetFile  = "SET_FILE"
	cmdGetPeers = "GET_PEERS"
	replyOK     = "OK"
	replyPeers  = "PEERS"
	replyError  = "ERR"
)

var ErrBadRequest = errors.New("malformed tracker request")

type request struct {
	cmd  string
	name string
	addr string
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", fmt.Errorf("%w: unterminated line %q", ErrBadRequest, line)
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readRequest(r *bufio.Reader) (request, error) {
	var req request
	var err error
	if req.cmd, err = readLine(r); err != nil {
		return req, err
	}
	switch req.cmd {
	case cmdSetFile:
		if req.name, err = readLine(r); err != nil {
			return req, err
		}
		if req.addr, err = readLine(r); err != nil {
			return req, err
		}
		if req.addr == "" {
			return req, fmt.Errorf("%w: empty address", ErrBadRequest)
		}
	case cmdGetPeers:
		if req.name, err = readLine(r); err != nil {
			return req, err
		}
	default:
		return req, fmt.Errorf("%w: unknown command %q", ErrBadRequest, req.cmd)
	}
	if req.name == "" {
		return req, fmt.Errorf("%w: empty file name", ErrBadRequest)
	}
	return req, nil
}

func validField(s string) bool {
	return s != "" && !strings.ContainsAny(s, "\r\n")
}
