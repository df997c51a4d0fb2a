/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command tsctl is the control-plane client for tsd: it dials the
// daemon's control socket, sends one tsapi request, and renders the
// reply as a table.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openperf/timesync/tsapi"
)

var (
	controlAddr string
	dialTimeout = 2 * time.Second
)

func main() {
	root := &cobra.Command{
		Use:   "tsctl",
		Short: "control client for the time-synchronization daemon",
	}
	root.PersistentFlags().StringVar(&controlAddr, "control", "127.0.0.1:6123", "daemon control address")

	root.AddCommand(
		listCountersCmd(),
		getKeeperCmd(),
		listSourcesCmd(),
		addSourceCmd(),
		delSourceCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func dial() (net.Conn, error) {
	return net.DialTimeout("tcp", controlAddr, dialTimeout)
}

func roundTrip(req tsapi.Request) (tsapi.Reply, error) {
	conn, err := dial()
	if err != nil {
		return tsapi.Reply{}, fmt.Errorf("tsctl: dial %s: %w", controlAddr, err)
	}
	defer conn.Close()

	if err := tsapi.WriteRequest(conn, req); err != nil {
		return tsapi.Reply{}, err
	}
	return tsapi.ReadReply(conn)
}

func printError(e *tsapi.ReplyError) {
	fmt.Fprintln(os.Stderr, color.RedString("error: %s (code %d)", e.Type, e.Code))
}

func listCountersCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "list-counters",
		Short: "list registered timecounters",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := roundTrip(tsapi.ListCountersRequest(id))
			if err != nil {
				return err
			}
			if reply.Kind == tsapi.KindError {
				printError(reply.Error)
				os.Exit(1)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("ID", "NAME", "PRIORITY", "ACTIVE")
			for _, c := range reply.Counters {
				active := ""
				if c.Active {
					active = color.GreenString("yes")
				}
				table.Append(c.ID, c.Name, fmt.Sprintf("%d", c.Priority), active)
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "restrict to a single counter id")
	return cmd
}

func getKeeperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-keeper",
		Short: "show the disciplined clock's current reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := roundTrip(tsapi.GetKeeperRequest())
			if err != nil {
				return err
			}
			if reply.Kind == tsapi.KindError {
				printError(reply.Error)
				os.Exit(1)
			}
			k := reply.Keeper
			synced := color.RedString("no")
			if k.Synced {
				synced = color.GreenString("yes")
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("FIELD", "VALUE")
			table.Append("synced", synced)
			table.Append("ref_wall_sec", fmt.Sprintf("%d", k.RefWallSec))
			table.Append("ref_wall_frac", fmt.Sprintf("%d", k.RefWallFrac))
			table.Append("ref_ticks", fmt.Sprintf("%d", k.RefTicks))
			table.Append("freq_hz", fmt.Sprintf("%.6f", k.FreqHz))
			return table.Render()
		},
	}
	return cmd
}

func listSourcesCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "list-sources",
		Short: "list configured NTP sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := roundTrip(tsapi.ListSourcesRequest(id))
			if err != nil {
				return err
			}
			if reply.Kind == tsapi.KindError {
				printError(reply.Error)
				os.Exit(1)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("ID", "NODE", "SERVICE", "RX", "TX", "LAST TX TICK")
			for _, s := range reply.Sources {
				table.Append(
					s.ID, s.Node, s.Service,
					fmt.Sprintf("%d", s.RXCount),
					fmt.Sprintf("%d", s.TXCount),
					fmt.Sprintf("%d", s.LastTxTick),
				)
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "restrict to a single source id")
	return cmd
}

func addSourceCmd() *cobra.Command {
	var id, service string
	cmd := &cobra.Command{
		Use:   "add-source <node>",
		Short: "configure the NTP source the daemon polls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := tsapi.AddSourceRequest(id, tsapi.SourceConfig{Node: args[0], Service: service})
			reply, err := roundTrip(req)
			if err != nil {
				return err
			}
			if reply.Kind == tsapi.KindError {
				printError(reply.Error)
				os.Exit(1)
			}
			fmt.Println(color.GreenString("ok"))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "source id (generated if blank)")
	cmd.Flags().StringVar(&service, "service", "ntp", "service name or port")
	return cmd
}

func delSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "del-source <id>",
		Short: "remove the configured NTP source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := roundTrip(tsapi.DelSourceRequest(args[0]))
			if err != nil {
				return err
			}
			if reply.Kind == tsapi.KindError {
				printError(reply.Error)
				os.Exit(1)
			}
			fmt.Println(color.GreenString("ok"))
			return nil
		},
	}
	return cmd
}
