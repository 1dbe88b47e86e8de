package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/twin/internal/catalog"
	"github.com/kalambet/twin/internal/config"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/storage"
)

func profilePath(id string, parts ...string) string {
	p := "/profiles/" + url.PathEscape(id)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Create and inspect profiles",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		userRef, _ := cmd.Flags().GetString("user")
		bio, _ := cmd.Flags().GetString("bio")
		if strings.TrimSpace(userRef) == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p persona.Profile
		if err := client.call(cmd.Context(), http.MethodPost, "/profiles", map[string]string{"user_ref": userRef, "bio": bio}, &p); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p.ID)
		printSuccess("Created profile for %s", p.UserRef)
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <profile-id>",
	Short: "Show a profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p any
		if err := client.call(cmd.Context(), http.MethodGet, profilePath(args[0]), nil, &p); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var profilePrefsCmd = &cobra.Command{
	Use:   "prefs <profile-id>",
	Short: "Change reply style, depth or formality",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if cmd.Flags().Changed("style") {
			v, _ := cmd.Flags().GetString("style")
			body["style"] = v
		}
		if cmd.Flags().Changed("depth") {
			v, _ := cmd.Flags().GetInt("depth")
			body["depth"] = v
		}
		if cmd.Flags().Changed("formality") {
			v, _ := cmd.Flags().GetInt("formality")
			body["formality"] = v
		}
		if len(body) == 0 {
			return fmt.Errorf("one of --style, --depth, or --formality is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var prefs persona.Preferences
		if err := client.call(cmd.Context(), http.MethodPatch, profilePath(args[0], "preferences"), body, &prefs); err != nil {
			return err
		}
		printSuccess("Preferences: style=%s depth=%d formality=%d", prefs.Style, prefs.Depth, prefs.Formality)
		return nil
	},
}

func init() {
	profileCreateCmd.Flags().String("user", "", "external user reference")
	profileCreateCmd.Flags().String("bio", "", "short biography")
	profilePrefsCmd.Flags().String("style", "", "casual, formal, technical, humorous or empathetic")
	profilePrefsCmd.Flags().Int("depth", 2, "reply depth (1-3)")
	profilePrefsCmd.Flags().Int("formality", 3, "reply formality (1-5)")
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profilePrefsCmd)
}

// --- questions ---

var questionCmd = &cobra.Command{
	Use:   "question",
	Short: "Browse and extend the question catalog",
}

var questionNextCmd = &cobra.Command{
	Use:   "next <profile-id>",
	Short: "Show the next training question for a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hint, _ := cmd.Flags().GetString("context")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := profilePath(args[0], "next-question")
		if hint != "" {
			path += "?" + url.Values{"context": {hint}}.Encode()
		}
		var q catalog.Question
		if err := client.call(cmd.Context(), http.MethodGet, path, nil, &q); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colorize(colorCyan, fmt.Sprintf("[%d]", q.ID)), q.Text)
		return nil
	},
}

var questionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var qs []catalog.Question
		if err := client.call(cmd.Context(), http.MethodGet, "/questions", nil, &qs); err != nil {
			return err
		}
		for _, q := range qs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %d  %s\n",
				colorize(colorCyan, fmt.Sprintf("%3d", q.ID)), q.Category, q.Importance, q.Text)
		}
		return nil
	},
}

var questionAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Append a custom question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		importance, _ := cmd.Flags().GetInt("importance")
		triggers, _ := cmd.Flags().GetStringSlice("triggers")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		req := map[string]any{
			"text":       strings.Join(args, " "),
			"category":   category,
			"importance": importance,
			"triggers":   triggers,
		}
		var q catalog.Question
		if err := client.call(cmd.Context(), http.MethodPost, "/questions", req, &q); err != nil {
			return err
		}
		printSuccess("Added question %d", q.ID)
		return nil
	},
}

func init() {
	questionNextCmd.Flags().String("context", "", "conversation context used to pick a related question")
	questionAddCmd.Flags().String("category", "", "question category")
	questionAddCmd.Flags().Int("importance", 3, "importance (1-5)")
	questionAddCmd.Flags().StringSlice("triggers", nil, "comma-separated trigger words")
	questionCmd.AddCommand(questionNextCmd)
	questionCmd.AddCommand(questionListCmd)
	questionCmd.AddCommand(questionAddCmd)
}

// --- training ---

var answerCmd = &cobra.Command{
	Use:   "answer <profile-id> <question-id> <answer>",
	Short: "Answer a training question",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		qid, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid question id %q", args[1])
		}
		emotion, _ := cmd.Flags().GetString("emotion")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		req := map[string]any{
			"question_id": qid,
			"answer":      strings.Join(args[2:], " "),
			"emotion":     emotion,
		}
		var result struct {
			TrainingProgress int `json:"training_progress"`
			Answers          int `json:"answers"`
			Memories         int `json:"memories"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, profilePath(args[0], "answers"), req, &result); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s answers=%d memories=%d\n",
			progressBar(result.TrainingProgress), result.Answers, result.Memories)
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <profile-id>",
	Short: "Open a trained twin to chats from others",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var d storage.DeployedProfile
		if err := client.call(cmd.Context(), http.MethodPost, profilePath(args[0], "deploy"), nil, &d); err != nil {
			return err
		}
		printSuccess("Deployed %s", d.ID)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <profile-id>",
	Short: "Run the memory and trait decay pass now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p persona.Profile
		if err := client.call(cmd.Context(), http.MethodPost, profilePath(args[0], "refresh"), nil, &p); err != nil {
			return err
		}
		printSuccess("Refreshed: %d memories, %d traits", len(p.Memories), len(p.Traits))
		return nil
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <profile-id>",
	Short: "Rate a knowledge entry or memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, _ := cmd.Flags().GetInt("score")
		comments, _ := cmd.Flags().GetString("comments")
		body := map[string]any{"score": score, "comments": comments}
		if cmd.Flags().Changed("question") {
			v, _ := cmd.Flags().GetInt("question")
			body["question_id"] = v
		}
		if cmd.Flags().Changed("memory") {
			v, _ := cmd.Flags().GetInt64("memory")
			body["memory_id"] = v
		}
		if _, hasQ := body["question_id"]; !hasQ {
			if _, hasM := body["memory_id"]; !hasM {
				return fmt.Errorf("one of --question or --memory is required")
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodPost, profilePath(args[0], "feedback"), body, nil); err != nil {
			return err
		}
		printSuccess("Feedback recorded")
		return nil
	},
}

func init() {
	answerCmd.Flags().String("emotion", "", "emotion tag (detected from the answer when empty)")
	feedbackCmd.Flags().Int("question", 0, "question ID of the knowledge entry")
	feedbackCmd.Flags().Int64("memory", 0, "memory ID")
	feedbackCmd.Flags().Int("score", 3, "score (1-5)")
	feedbackCmd.Flags().String("comments", "", "free-form comments")
}

// --- conversation ---

var chatCmd = &cobra.Command{
	Use:   "chat <profile-id> <message>",
	Short: "Send a message to a twin",
	Long: `Send a message to a twin.

Without --as the message goes to your own twin. With --as the message is
sent on behalf of that profile to a deployed twin.

Examples:
  twin chat 1f0c... "How do you handle conflict?"
  twin chat --as 1f0c... 9a2b... "What do you do on weekends?"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		speaker, _ := cmd.Flags().GetString("as")
		reset, _ := cmd.Flags().GetBool("reset")
		body := map[string]any{"message": strings.Join(args[1:], " "), "reset": reset}

		path := profilePath(args[0], "chat")
		if speaker != "" {
			path = "/deployed/" + url.PathEscape(args[0]) + "/chat"
			body["speaker_id"] = speaker
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var reply persona.Reply
		if err := client.call(cmd.Context(), http.MethodPost, path, body, &reply); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <profile-id> <text>",
	Short: "Classify text for emotion and style",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var report persona.Report
		if err := client.call(cmd.Context(), http.MethodPost, profilePath(args[0], "analyze"), map[string]string{"text": strings.Join(args[1:], " ")}, &report); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var deployedCmd = &cobra.Command{
	Use:   "deployed",
	Short: "List deployed twins",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []storage.DeployedProfile
		if err := client.call(cmd.Context(), http.MethodGet, "/deployed", nil, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No deployed twins.")
			return nil
		}
		for _, d := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", colorize(colorCyan, d.ID), progressBar(d.TrainingProgress), d.Bio)
		}
		return nil
	},
}

var interactionsCmd = &cobra.Command{
	Use:   "interactions <profile-id>",
	Short: "List recent chat turns with a twin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []storage.Interaction
		if err := client.call(cmd.Context(), http.MethodGet, fmt.Sprintf("%s?limit=%d", profilePath(args[0], "interactions"), limit), nil, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No interactions found.")
			return nil
		}
		for _, ix := range list {
			marker := " "
			if ix.Matched {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n  %s\n",
				ix.CreatedAt.Format("2006-01-02 15:04"), marker, truncate(ix.Message, 80), truncate(ix.Reply, 120))
		}
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	chatCmd.Flags().String("as", "", "speaker profile ID when chatting with someone else's deployed twin")
	chatCmd.Flags().Bool("reset", false, "start a new conversation context")
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
