package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basinrun/coordinator/pkg/api"
	"github.com/basinrun/coordinator/pkg/client"
	"github.com/basinrun/coordinator/pkg/coordinator"
	"github.com/basinrun/coordinator/pkg/log"
	"github.com/basinrun/coordinator/pkg/manager"
	"github.com/basinrun/coordinator/pkg/metrics"
	"github.com/basinrun/coordinator/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coordinatord",
	Short: "coordinatord - event-driven extraction coordinator",
	Long: `coordinatord turns content and extractor-binding declarations into
tasks, assigns them to running executors over a Raft-replicated cluster,
and schedules derived content as executors report task outcomes.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"coordinatord version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(repositoryCmd)
	rootCmd.AddCommand(extractorCmd)
	rootCmd.AddCommand(executorCmd)
	rootCmd.AddCommand(bindingCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(applyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// --- cluster ---

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the coordinator cluster",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new coordinator cluster on this node",
	Long: `Bootstrap starts this node as the sole member of a new Raft cluster
and serves it is ready to accept writes immediately. Additional nodes join
with "coordinatord cluster join".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		fmt.Println("Bootstrapping coordinator cluster...")
		fmt.Printf("  Node ID: %s\n", nodeID)
		fmt.Printf("  Raft Address: %s\n", bindAddr)
		fmt.Printf("  API Address: %s\n", apiAddr)
		fmt.Printf("  Data Directory: %s\n", dataDir)
		fmt.Println()

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("create manager: %w", err)
		}

		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		fmt.Println("✓ Raft bootstrapped")

		coord := coordinator.New(mgr)
		coord.Start()
		fmt.Println("✓ Coordinator started")

		collector := manager.NewMetricsCollector(mgr)
		collector.Start()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "bootstrapped")
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("api", false, "starting")

		server := api.NewServer(mgr, coord)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(apiAddr); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
		time.Sleep(200 * time.Millisecond)
		metrics.RegisterComponent("api", true, "ready")
		fmt.Printf("✓ API listening on %s\n", apiAddr)

		fmt.Println()
		workerToken, _ := mgr.GenerateJoinToken("executor")
		fmt.Println("Executor join token (24h):")
		fmt.Printf("  %s\n", workerToken.Token)
		coordToken, _ := mgr.GenerateJoinToken("coordinator")
		fmt.Println("Coordinator join token (24h):")
		fmt.Printf("  %s\n", coordToken.Token)
		fmt.Println()
		fmt.Println("Coordinator is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}

		collector.Stop()
		coord.Stop()
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing coordinator cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		leader, _ := cmd.Flags().GetString("leader")
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			return fmt.Errorf("--token is required (see 'coordinatord cluster join-token')")
		}

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("create manager: %w", err)
		}

		c, err := client.NewClient(leader)
		if err != nil {
			return fmt.Errorf("connect to leader: %w", err)
		}
		defer c.Close()
		if err := c.JoinCluster(nodeID, bindAddr, token); err != nil {
			return fmt.Errorf("register with leader: %w", err)
		}
		fmt.Printf("✓ %s registered as a voter with leader %s\n", nodeID, leader)

		coord := coordinator.New(mgr)
		coord.Start()

		collector := manager.NewMetricsCollector(mgr)
		collector.Start()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "joined")
		metrics.RegisterComponent("storage", true, "ready")

		server := api.NewServer(mgr, coord)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(apiAddr); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
		fmt.Printf("✓ API listening on %s\n", apiAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}

		collector.Stop()
		coord.Stop()
		return mgr.Shutdown()
	},
}

var clusterJoinTokenCmd = &cobra.Command{
	Use:   "join-token [coordinator|executor]",
	Short: "Generate a join token for a new coordinator or executor node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := args[0]
		if role != "coordinator" && role != "executor" {
			return fmt.Errorf("role must be 'coordinator' or 'executor'")
		}
		leader, _ := cmd.Flags().GetString("leader")

		c, err := client.NewClient(leader)
		if err != nil {
			return fmt.Errorf("connect to leader: %w", err)
		}
		defer c.Close()

		token, err := c.GenerateJoinToken(role)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Printf("Join token for %s (valid 24h):\n\n  %s\n\n", role, token)
		if role == "coordinator" {
			fmt.Printf("coordinatord cluster join --leader %s --token %s\n", leader, token)
		}
		return nil
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display Raft cluster membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, _ := cmd.Flags().GetString("leader")

		c, err := client.NewClient(leader)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer c.Close()

		info, err := c.GetClusterInfo()
		if err != nil {
			return fmt.Errorf("get cluster info: %w", err)
		}

		fmt.Printf("Leader Address: %s\n", info.LeaderAddr)
		fmt.Printf("This node is leader: %v\n", info.IsLeader)
		fmt.Println("Servers:")
		for _, srv := range info.Servers {
			fmt.Printf("  - %s @ %s (%s)\n", srv.ID, srv.Address, srv.Suffrage)
		}
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterJoinCmd)
	clusterCmd.AddCommand(clusterJoinTokenCmd)
	clusterCmd.AddCommand(clusterInfoCmd)

	clusterInitCmd.Flags().String("node-id", "coordinator-1", "Unique node ID")
	clusterInitCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for Raft communication")
	clusterInitCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address for the HTTP API")
	clusterInitCmd.Flags().String("data-dir", "./coordinator-data", "Data directory for cluster state")

	clusterJoinCmd.Flags().String("node-id", "", "Unique node ID (required)")
	clusterJoinCmd.Flags().String("bind-addr", "127.0.0.1:7947", "Address for Raft communication")
	clusterJoinCmd.Flags().String("api-addr", "127.0.0.1:8081", "Address for the HTTP API")
	clusterJoinCmd.Flags().String("data-dir", "./coordinator-data", "Data directory for cluster state")
	clusterJoinCmd.Flags().String("leader", "127.0.0.1:8080", "Address of an existing cluster member")
	clusterJoinCmd.Flags().String("token", "", "Join token minted by the leader (required)")
	_ = clusterJoinCmd.MarkFlagRequired("node-id")

	clusterJoinTokenCmd.Flags().String("leader", "127.0.0.1:8080", "Address of a cluster member")
	clusterInfoCmd.Flags().String("leader", "127.0.0.1:8080", "Address of a cluster member")
}

// --- repository ---

var repositoryCmd = &cobra.Command{
	Use:   "repository",
	Short: "Manage repositories",
}

var repositoryCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		repo, err := c.CreateRepository(args[0])
		if err != nil {
			return err
		}
		return printJSON(repo)
	},
}

var repositoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		repos, err := c.ListRepositories()
		if err != nil {
			return err
		}
		return printJSON(repos)
	},
}

var repositoryGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Get a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		repo, err := c.GetRepository(args[0])
		if err != nil {
			return err
		}
		return printJSON(repo)
	},
}

// --- extractor ---

var extractorCmd = &cobra.Command{
	Use:   "extractor",
	Short: "Manage extractor descriptions",
}

var extractorRegisterCmd = &cobra.Command{
	Use:   "register -f FILE",
	Short: "Register an extractor description from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		var extractor types.ExtractorDescription
		if err := readJSONFile(file, &extractor); err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("manager")
		c, err := client.NewClient(addr)
		if err != nil {
			return err
		}
		defer c.Close()
		// Extractor registration is intentionally not part of pkg/client's
		// RPC set, so this CLI talks straight to the HTTP endpoint instead.
		return postJSON(addr, "/v1/extractors", &extractor, &extractor)
	},
}

var extractorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered extractors",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		extractors, err := c.ListExtractors()
		if err != nil {
			return err
		}
		return printJSON(extractors)
	},
}

var extractorCoordinatesCmd = &cobra.Command{
	Use:   "coordinates NAME",
	Short: "List the addresses of executors registered for an extractor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		addrs, err := c.GetExtractorCoordinates(args[0])
		if err != nil {
			return err
		}
		return printJSON(addrs)
	},
}

// --- executor ---

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Manage executor registration",
}

var executorRegisterCmd = &cobra.Command{
	Use:   "register ID ADDR EXTRACTOR",
	Short: "Register a running executor",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		executor, err := c.RegisterExecutor(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(executor)
	},
}

// --- binding ---

var bindingCmd = &cobra.Command{
	Use:   "binding",
	Short: "Manage extractor bindings",
}

var bindingCreateCmd = &cobra.Command{
	Use:   "create -f FILE",
	Short: "Admit an extractor binding from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		var binding types.ExtractorBinding
		if err := readJSONFile(file, &binding); err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.CreateBinding(&binding); err != nil {
			return err
		}
		return printJSON(&binding)
	},
}

var bindingListCmd = &cobra.Command{
	Use:   "list REPOSITORY",
	Short: "List bindings for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		bindings, err := c.ListBindings(args[0])
		if err != nil {
			return err
		}
		return printJSON(bindings)
	},
}

// --- content ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Ingest and inspect content metadata",
}

var contentCreateCmd = &cobra.Command{
	Use:   "create -f FILE",
	Short: "Ingest content metadata from a JSON file (an array of records)",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		var content []*types.ContentMetadata
		if err := readJSONFile(file, &content); err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		return c.CreateContent(content)
	},
}

var contentListCmd = &cobra.Command{
	Use:   "list REPOSITORY",
	Short: "List content metadata for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		content, err := c.ListContent(client.ListContentQuery{Repository: args[0]})
		if err != nil {
			return err
		}
		return printJSON(content)
	},
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage indexes",
}

var indexListCmd = &cobra.Command{
	Use:   "list REPOSITORY",
	Short: "List indexes for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		indexes, err := c.ListIndexes(args[0])
		if err != nil {
			return err
		}
		return printJSON(indexes)
	},
}

func init() {
	repositoryCmd.AddCommand(repositoryCreateCmd)
	repositoryCmd.AddCommand(repositoryListCmd)
	repositoryCmd.AddCommand(repositoryGetCmd)

	extractorCmd.AddCommand(extractorRegisterCmd)
	extractorCmd.AddCommand(extractorListCmd)
	extractorCmd.AddCommand(extractorCoordinatesCmd)
	extractorRegisterCmd.Flags().String("file", "", "Path to a JSON extractor description (required)")
	_ = extractorRegisterCmd.MarkFlagRequired("file")

	executorCmd.AddCommand(executorRegisterCmd)

	bindingCmd.AddCommand(bindingCreateCmd)
	bindingCmd.AddCommand(bindingListCmd)
	bindingCreateCmd.Flags().String("file", "", "Path to a JSON binding (required)")
	_ = bindingCreateCmd.MarkFlagRequired("file")

	contentCmd.AddCommand(contentCreateCmd)
	contentCmd.AddCommand(contentListCmd)
	contentCreateCmd.Flags().String("file", "", "Path to a JSON array of content metadata (required)")
	_ = contentCreateCmd.MarkFlagRequired("file")

	indexCmd.AddCommand(indexListCmd)

	for _, cmd := range []*cobra.Command{
		repositoryCreateCmd, repositoryListCmd, repositoryGetCmd,
		extractorListCmd, extractorCoordinatesCmd,
		executorRegisterCmd,
		bindingCreateCmd, bindingListCmd,
		contentCreateCmd, contentListCmd,
		indexListCmd,
	} {
		cmd.Flags().String("manager", "127.0.0.1:8080", "Coordinator API address")
	}
	extractorRegisterCmd.Flags().String("manager", "127.0.0.1:8080", "Coordinator API address")
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("manager")
	return client.NewClient(addr)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func postJSON(addr, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post("http://"+addr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("POST %s: %s", path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
