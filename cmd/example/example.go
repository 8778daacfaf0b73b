package main

import (
	"errors"
	"flag"
	"net/url"
	"os"
	"strings"

	"github.com/knowfox/gemini/v2"
	"github.com/knowfox/gemini/v2/internal/logging"
	"github.com/rs/zerolog"
)

type ExampleHandler struct {
	log   zerolog.Logger
	files string
}

func (h ExampleHandler) ServeGemini(w gemini.ResponseWriter, req *gemini.Request) {
	h.log.Info().Str("path", req.URL.Path).Str("user", strings.Join(req.UserName(), " ")).Msg("request")
	switch req.URL.Path {
	case "/":
		err := w.WriteStatusMsg(gemini.StatusSuccess, "text/gemini")
		requireNoError(err)
		_, err = w.WriteBody([]byte(index))
		requireNoError(err)
	case "/input":
		if req.URL.RawQuery == "" {
			w.WriteStatusMsg(gemini.StatusPlainInput, "What is your name?")
			return
		}
		name, err := url.QueryUnescape(req.URL.RawQuery)
		if err != nil {
			w.WriteStatusMsg(gemini.StatusBadRequest, "Malformed query")
			return
		}
		w.WriteStatusMsg(gemini.StatusSuccess, "text/gemini")
		w.WriteBody([]byte("# Hello, " + name + "!\n=> / Back\n"))
	case "/redirect":
		w.WriteStatusMsg(gemini.StatusTemporaryRedirect, "/")
	case "/user":
		if req.Certificate() == nil {
			w.WriteStatusMsg(gemini.StatusCertRequired, "Authentication Required")
			return
		}
		w.WriteStatusMsg(gemini.StatusSuccess, "text/gemini")
		w.WriteBody([]byte(req.Certificate().Subject.CommonName))
	case "/die":
		requireNoError(errors.New("must die"))
	case "/file":
		gemini.ServeFileName(h.files, "text/gemini")(w, req)
	default:
		w.WriteStatusMsg(gemini.StatusNotFound, req.URL.Path)
	}
}

const index = `# Example capsule
=> /input Say hello
=> /redirect Go around in a circle
=> /user Who am I?
=> /file A file from disk
=> /die Trip the panic trap
`

func requireNoError(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	var host, cert, key, file, level string
	flag.StringVar(&host, "host", ":1965", "listen on host and port.  Example: hostname:1965")
	flag.StringVar(&cert, "cert", "server.crt.pem", "certificate file")
	flag.StringVar(&key, "key", "server.key.pem", "private key associated with certificate file")
	flag.StringVar(&file, "file", "cmd/example/hello.gmi", "gemtext file served at /file")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	log := logging.Configure(level)
	handler := ExampleHandler{log: log, files: file}

	err := gemini.ListenAndServe(host, cert, key, gemini.TrapPanic(handler.ServeGemini))
	if err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
