/*
 * MIT License
 *
 * Copyright (c) 2024 the chirp authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Command chirpd is a minimal example host for the chirp library: it loads
// a config.Config from flags and environment variables via viper, starts a node running a
// loopback-everything echo handler, and waits for SIGINT/SIGTERM. It is
// wiring demonstration, not a supported API (spec.md lists CLI harnesses
// as out of scope).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	spfcbr "github.com/spf13/cobra"
	spfvbr "github.com/spf13/viper"

	chirp "github.com/hengestone/chirp"
	"github.com/hengestone/chirp/chirplog"
	"github.com/hengestone/chirp/config"
	"github.com/hengestone/chirp/message"
)

var vpr = spfvbr.New()

func main() {
	root := &spfcbr.Command{
		Use:   "chirpd",
		Short: "chirpd runs a chirp node with an echo handler",
		RunE:  run,
	}
	registerFlags(root)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func registerFlags(cmd *spfcbr.Command) {
	cmd.PersistentFlags().Uint16("port", 0, "TCP port to listen on; 0 picks one")
	cmd.PersistentFlags().Int("backlog", 100, "listen() backlog depth")
	cmd.PersistentFlags().Duration("timeout", 0, "connect/handshake/write timeout; 0 uses the default")
	cmd.PersistentFlags().Duration("reuseTime", 0, "idle remote reuse window; 0 uses the default")
	cmd.PersistentFlags().Bool("synchronous", false, "process one inbound message at a time")
	cmd.PersistentFlags().Int("maxSlots", 0, "receive-slot pool size; 0 uses the default")
	cmd.PersistentFlags().Bool("disableSignals", false, "don't install SIGINT/SIGTERM handling")
	cmd.PersistentFlags().Bool("disableEncryption", false, "skip the TLS overlay for every connection")
	cmd.PersistentFlags().String("tls.certChainPath", "", "PEM certificate chain path")
	cmd.PersistentFlags().String("tls.keyPath", "", "PEM private key path")
	cmd.PersistentFlags().String("tls.rootCaPath", "", "PEM root CA path (optional)")
	cmd.PersistentFlags().String("tls.dhParamsPath", "", "PEM DH parameters path (optional)")

	for _, name := range []string{
		"port", "backlog", "timeout", "reuseTime", "synchronous", "maxSlots",
		"disableSignals", "disableEncryption",
		"tls.certChainPath", "tls.keyPath", "tls.rootCaPath", "tls.dhParamsPath",
	} {
		_ = vpr.BindPFlag(name, cmd.PersistentFlags().Lookup(name))
	}

	vpr.SetEnvPrefix("chirpd")
	vpr.AutomaticEnv()
}

func run(cmd *spfcbr.Command, args []string) error {
	cfg := config.Default()
	cfg.Port = uint16(vpr.GetInt("port"))
	cfg.DisableSignals = vpr.GetBool("disableSignals")
	cfg.DisableEncryption = vpr.GetBool("disableEncryption")
	cfg.TLS.CertChainPath = vpr.GetString("tls.certChainPath")
	cfg.TLS.KeyPath = vpr.GetString("tls.keyPath")
	cfg.TLS.RootCAPath = vpr.GetString("tls.rootCaPath")
	cfg.TLS.DHParamsPath = vpr.GetString("tls.dhParamsPath")
	if v := vpr.GetInt("backlog"); v != 0 {
		cfg.Backlog = v
	}
	if v := vpr.GetDuration("timeout"); v != 0 {
		cfg.Timeout = v
	}
	if v := vpr.GetDuration("reuseTime"); v != 0 {
		cfg.ReuseTime = v
	}
	if v := vpr.GetInt("maxSlots"); v != 0 {
		cfg.MaxSlots = v
	}
	cfg.Synchronous = vpr.GetBool("synchronous")

	if err := cfg.Validate(); err != nil {
		return err
	}

	n, err := chirp.New(cfg)
	if err != nil {
		return err
	}

	log := chirplog.New(chirplog.InfoLevel, os.Stderr)
	n.SetLogCallback(func(level chirplog.Level, fields map[string]interface{}, msg string) {
		entry := log.With(fields)
		switch level {
		case chirplog.DebugLevel:
			entry.Debug(msg)
		case chirplog.WarnLevel:
			entry.Warn(msg)
		case chirplog.ErrorLevel, chirplog.FatalLevel, chirplog.PanicLevel:
			entry.Error(msg)
		default:
			entry.Info(msg)
		}
	})

	done := make(chan struct{})
	runErr := n.Run(echo(n), func(n *chirp.Node) {
		log.Info(fmt.Sprintf("chirpd listening on port %d", n.GetPublicPort()))
	}, func(n *chirp.Node) {
		close(done)
	})
	if runErr != nil {
		return runErr
	}

	if !cfg.DisableSignals {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			n.CloseTS()
		}()
	}

	<-done
	n.Wait()
	return nil
}

// echo bounces every inbound message back to its sender unacknowledged,
// releasing the slot once the reply is queued — the simplest possible
// RecvFunc a host can install.
func echo(n *chirp.Node) chirp.RecvFunc {
	return func(msg *message.Message) {
		reply := &message.Message{
			Identity: msg.Identity,
			Kind:     msg.Kind &^ message.ReqAck,
			Data:     append([]byte(nil), msg.Data...),
			Peer:     msg.Peer,
		}
		_ = n.Send(reply, nil)
		_ = n.ReleaseMsgSlot(msg, nil)
	}
}
