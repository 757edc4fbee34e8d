// qish - interactive shell for poking at services: resolve them through
// a directory, call methods, post and watch signals.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/session"
	"github.com/fabricejumel/libqi/typesys"
)

type watch struct {
	obj    *session.RemoteObject
	signal uint32
	link   uint64
}

type shell struct {
	sess    *session.Session
	watches map[string]watch
}

func main() {
	directory := flag.String("sd", "tcp://127.0.0.1:9559", "Service directory URL")
	verbosity := flag.Int("v", 0, "Log verbosity")
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	exec := executor.New(0)
	defer exec.Stop()

	sh := &shell{
		sess:    session.New(exec),
		watches: make(map[string]watch),
	}
	defer sh.sess.Close()

	if err := sh.sess.ConnectDirectory(*directory); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach directory %s: %v\n", *directory, err)
		os.Exit(1)
	}
	fmt.Printf("Connected to %s\n", *directory)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), ".qish_history")
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("qi> ")
		if err != nil {
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "quit" || input == "exit" {
			break
		}
		if err := sh.run(input); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func (sh *shell) run(input string) error {
	fields := strings.Fields(input)
	cmd, rest := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Println("commands: services | call <service> <method> [args...] |")
		fmt.Println("          post <service> <signal> [args...] | watch <service> <signal> |")
		fmt.Println("          unwatch <service> <signal> | quit")
		return nil
	case "services":
		return sh.services()
	case "call":
		if len(rest) < 2 {
			return fmt.Errorf("usage: call <service> <method> [args...]")
		}
		return sh.call(rest[0], rest[1], rest[2:])
	case "post":
		if len(rest) < 2 {
			return fmt.Errorf("usage: post <service> <signal> [args...]")
		}
		return sh.post(rest[0], rest[1], rest[2:])
	case "watch":
		if len(rest) != 2 {
			return fmt.Errorf("usage: watch <service> <signal>")
		}
		return sh.watch(rest[0], rest[1])
	case "unwatch":
		if len(rest) != 2 {
			return fmt.Errorf("usage: unwatch <service> <signal>")
		}
		return sh.unwatch(rest[0], rest[1])
	}
	return fmt.Errorf("unknown command %q (try help)", cmd)
}

func (sh *shell) services() error {
	sd := sh.sess.Directory()
	if sd == nil {
		return fmt.Errorf("no directory")
	}
	f := sd.Call(session.SDMethodServices)
	if err := f.Err(); err != nil {
		return err
	}
	v := f.Value()
	defer v.Destroy()
	if v.Kind() != typesys.KindList {
		return fmt.Errorf("unexpected reply shape")
	}
	for i := 0; i < v.Size(); i++ {
		info := v.Element(i)
		fmt.Printf("  [%d] %s", info.Element(1).ToUInt(), info.Element(0).ToString())
		eps := info.Element(4)
		for j := 0; j < eps.Size(); j++ {
			fmt.Printf(" %s", eps.Element(j).ToString())
		}
		fmt.Println()
	}
	return nil
}

func (sh *shell) call(service, method string, args []string) error {
	obj, err := sh.sess.Service(service)
	if err != nil {
		return err
	}
	values, err := parseArgs(args)
	if err != nil {
		return err
	}
	defer destroyAll(values)
	f := obj.CallByName(method, values...)
	if err := f.Err(); err != nil {
		return err
	}
	v := f.Value()
	defer v.Destroy()
	fmt.Println(formatValue(v))
	return nil
}

func (sh *shell) post(service, signal string, args []string) error {
	obj, err := sh.sess.Service(service)
	if err != nil {
		return err
	}
	id, err := obj.SignalID(signal)
	if err != nil {
		return err
	}
	values, err := parseArgs(args)
	if err != nil {
		return err
	}
	defer destroyAll(values)
	return obj.Post(id, values...)
}

func (sh *shell) watch(service, signal string) error {
	key := service + "." + signal
	if _, ok := sh.watches[key]; ok {
		return fmt.Errorf("already watching %s", key)
	}
	obj, err := sh.sess.Service(service)
	if err != nil {
		return err
	}
	id, err := obj.SignalID(signal)
	if err != nil {
		return err
	}
	link, err := obj.Subscribe(id, func(args []typesys.Value) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = formatValue(a)
		}
		fmt.Printf("\n[%s] %s\n", key, strings.Join(parts, " "))
	})
	if err != nil {
		return err
	}
	sh.watches[key] = watch{obj: obj, signal: id, link: link}
	fmt.Printf("watching %s\n", key)
	return nil
}

func (sh *shell) unwatch(service, signal string) error {
	key := service + "." + signal
	w, ok := sh.watches[key]
	if !ok {
		return fmt.Errorf("not watching %s", key)
	}
	delete(sh.watches, key)
	return w.obj.Unsubscribe(w.signal, w.link)
}

// parseArgs turns shell tokens into values: integers, floats, booleans
// and strings.
func parseArgs(tokens []string) ([]typesys.Value, error) {
	out := make([]typesys.Value, 0, len(tokens))
	for _, t := range tokens {
		switch {
		case t == "true":
			out = append(out, typesys.NewBool(true))
		case t == "false":
			out = append(out, typesys.NewBool(false))
		default:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				out = append(out, typesys.NewInt(typesys.Int64Type(), n))
				continue
			}
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				out = append(out, typesys.NewFloat(typesys.Float64Type(), f))
				continue
			}
			out = append(out, typesys.NewString(strings.Trim(t, `"`)))
		}
	}
	return out, nil
}

func destroyAll(vs []typesys.Value) {
	for _, v := range vs {
		v.Destroy()
	}
}

func formatValue(v typesys.Value) string {
	switch v.Kind() {
	case typesys.KindVoid:
		return "ok"
	case typesys.KindInt:
		if v.Descriptor().Bits() == 1 {
			return strconv.FormatBool(v.ToBool())
		}
		if v.Descriptor().IsSigned() {
			return strconv.FormatInt(v.ToInt(), 10)
		}
		return strconv.FormatUint(v.ToUInt(), 10)
	case typesys.KindFloat:
		return strconv.FormatFloat(v.ToDouble(), 'g', -1, 64)
	case typesys.KindString:
		return strconv.Quote(v.ToString())
	case typesys.KindRaw:
		return fmt.Sprintf("raw(%d bytes)", len(v.ToRaw()))
	case typesys.KindList, typesys.KindTuple:
		parts := make([]string, v.Size())
		for i := range parts {
			parts[i] = formatValue(v.Element(i))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case typesys.KindMap:
		var parts []string
		for it := v.Begin(); !it.Done(); it.Next() {
			pair := it.Deref()
			parts = append(parts, formatValue(pair.Element(0))+": "+formatValue(pair.Element(1)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case typesys.KindDynamic:
		return formatValue(v.Inner())
	}
	return "<" + v.Kind().String() + ">"
}
