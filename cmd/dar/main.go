package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/app"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/config"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/db"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/repo"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dar",
	Short: "Dar Wa Emaar operations console",
	Long: `dar runs the Dar Wa Emaar project tracker: projects and their follow-up tasks,
plus the technical and conveyance service-request workflow.

- Workspace: a directory holding dar.yml and the .dar state directory.
- Projects: identified by name; progress is the share of tasks marked done.
- Requests: technical requests start as new; conveyance requests from staff
  outside PR wait for finance (pending_finance) first. PR staff complete,
  reject or return them for revision. Completing a request records a done
  task on its project.
- Data commands run as a signed-in user (--email/--password or DAR_EMAIL/DAR_PASSWORD).
- Activity journal: view it with 'dar log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.SetLevel(parseLevel(viper.GetString("log-level")))
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "dar"})

func main() {
	os.Exit(runMain())
}

func runMain() int {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func initConfig() {
	viper.SetEnvPrefix("DAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/dar.yml)")
	flags.String("dsn", "", "libsql database URL; overrides storage in dar.yml")
	flags.Bool("json", false, "output JSON")
	flags.String("email", "", "sign-in email")
	flags.String("password", "", "sign-in password")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "dsn", "json", "email", "password", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write dar.yml and seed the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Printf("Initialized workspace %s (config %s, backend %s)\n", workspace, path, rt.Config.Storage.Backend)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and role capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				caps, err := rt.Engine.Capabilities(u)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"user": u, "capabilities": caps})
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectPinCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var f engine.ProjectFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, pinned first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				items, err := rt.Engine.ListProjects(ctx, u, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Name", "Location", "Done", "Tasks", "Progress", "Pinned"})
				for _, p := range items {
					pin := ""
					if p.IsPinned {
						pin = "*"
					}
					tw.AppendRow(table.Row{p.Name, p.Location, p.CompletedTasks, p.TotalTasks, fmt.Sprintf("%d%%", p.Progress), pin})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Location, "location", "", "location filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "name search")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var in engine.NewProject
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				p, err := rt.Engine.CreateProject(ctx, u, in)
				if err != nil {
					return err
				}
				return printResult(rt, p)
			})
		},
	}
	cmd.Flags().StringVar(&in.Location, "location", "", "location (default: first configured location)")
	cmd.Flags().StringVar(&in.ImageURL, "image-url", "", "cover image URL")
	return cmd
}

func projectShowCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show a project with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				p, err := rt.Engine.GetProject(ctx, u, args[0], status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s (%s): %d/%d done, %d%%\n", p.Name, p.Location, p.CompletedTasks, p.TotalTasks, p.Progress)
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Description", "Reviewer", "Requester", "Status", "Date"})
				for _, t := range p.Tasks {
					tw.AppendRow(table.Row{t.ID, t.Description, t.Reviewer, t.Requester, t.Status, t.Date})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "task status filter")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var location, imageURL string
	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.ProjectPatch
			if cmd.Flags().Changed("location") {
				patch.Location = &location
			}
			if cmd.Flags().Changed("image-url") {
				patch.ImageURL = &imageURL
			}
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				p, err := rt.Engine.UpdateProject(ctx, u, args[0], patch)
				if err != nil {
					return err
				}
				return printResult(rt, p)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "cover image URL")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				if err := rt.Engine.DeleteProject(ctx, u, args[0]); err != nil {
					return err
				}
				warnPersist(rt)
				fmt.Printf("Deleted project %s\n", args[0])
				return nil
			})
		},
	}
}

func projectPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin NAME",
		Short: "Toggle the pinned flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				p, err := rt.Engine.TogglePin(ctx, u, args[0])
				if err != nil {
					return err
				}
				return printResult(rt, p)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage project tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskImportCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var d engine.TaskDraft
	cmd := &cobra.Command{
		Use:   "add PROJECT",
		Short: "Add a task to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				t, err := rt.Engine.AddTask(ctx, u, args[0], d)
				if err != nil {
					return err
				}
				return printResult(rt, t)
			})
		},
	}
	cmd.Flags().StringVar(&d.Description, "description", "", "work description")
	cmd.Flags().StringVar(&d.Reviewer, "reviewer", "", "reviewing authority")
	cmd.Flags().StringVar(&d.Requester, "requester", "", "requesting party (default: you)")
	cmd.Flags().StringVar(&d.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&d.Location, "location", "", "location (default: the project's)")
	cmd.Flags().StringVar(&d.Status, "status", "", "status ("+domain.TaskInProgress+" or "+domain.TaskDone+")")
	cmd.Flags().StringVar(&d.Date, "date", "", "follow-up date YYYY-MM-DD (default: today)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var description, reviewer, requester, notes, location, status, date string
	cmd := &cobra.Command{
		Use:   "update PROJECT TASK_ID",
		Short: "Update a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.TaskPatch
			for flag, dst := range map[string]**string{
				"description": &patch.Description,
				"reviewer":    &patch.Reviewer,
				"requester":   &patch.Requester,
				"notes":       &patch.Notes,
				"location":    &patch.Location,
				"status":      &patch.Status,
				"date":        &patch.Date,
			} {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					*dst = &v
				}
			}
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				t, err := rt.Engine.UpdateTask(ctx, u, args[0], args[1], patch)
				if err != nil {
					return err
				}
				return printResult(rt, t)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "work description")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewing authority")
	cmd.Flags().StringVar(&requester, "requester", "", "requesting party")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&date, "date", "", "follow-up date")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete PROJECT TASK_ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				if err := rt.Engine.DeleteTask(ctx, u, args[0], args[1]); err != nil {
					return err
				}
				warnPersist(rt)
				fmt.Printf("Deleted task %s\n", args[1])
				return nil
			})
		},
	}
}

func taskCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment PROJECT TASK_ID TEXT",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				c, err := rt.Engine.AddTaskComment(ctx, u, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printResult(rt, c)
			})
		},
	}
}

func taskImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE.csv",
		Short: "Import a task sheet exported as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readSheet(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				report, err := rt.Engine.ImportTasks(ctx, u, rows)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					warnPersist(rt)
					return printJSON(report)
				}
				fmt.Printf("Imported %d tasks, created %d projects, skipped %d rows\n",
					len(report.Created), len(report.ProjectsCreated), len(report.Skipped))
				printSkipped(report.Skipped)
				warnPersist(rt)
				return nil
			})
		},
	}
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Service requests"}
	req.AddCommand(requestListCmd())
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestTransitionCmd())
	req.AddCommand(requestCommentCmd())
	req.AddCommand(requestImportCmd())
	return req
}

func requestListCmd() *cobra.Command {
	var status, rtype, project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the requests in your inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				items, err := rt.Engine.ListRequests(ctx, u, engine.RequestFilter{
					Status:  domain.RequestStatus(status),
					Type:    domain.RequestType(rtype),
					Project: project,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Project", "Status", "Submitted by", "Date"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Name, r.Type, r.ProjectName, r.Status, r.SubmittedBy, r.Date})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&rtype, "type", "", "type filter (technical, conveyance)")
	cmd.Flags().StringVar(&project, "project", "", "project filter")
	return cmd
}

func requestCreateCmd() *cobra.Command {
	var d engine.RequestDraft
	var rtype string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a service request",
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Type = domain.RequestType(rtype)
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				r, err := rt.Engine.CreateRequest(ctx, u, d)
				if err != nil {
					return err
				}
				return printResult(rt, r)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&rtype, "type", "", "technical or conveyance (default depends on role)")
	f.StringVar(&d.ProjectName, "project", "", "project name")
	f.StringVar(&d.Details, "details", "", "details")
	f.StringVar(&d.ServiceSubType, "service", "", "technical service subtype")
	f.StringVar(&d.OtherServiceDetails, "other", "", "description when the service is "+engine.OtherService)
	f.StringVar(&d.Authority, "authority", "", "reviewing authority")
	f.StringVar(&d.ClientName, "client", "", "conveyance client name")
	f.StringVar(&d.IDNumber, "id-number", "", "client national ID")
	f.StringVar(&d.PlotNumber, "plot", "", "plot number")
	f.StringVar(&d.DeedNumber, "deed", "", "deed number")
	f.StringVar(&d.MobileNumber, "mobile", "", "client mobile")
	f.StringVar(&d.Bank, "bank", "", "financing bank")
	f.StringVar(&d.PropertyValue, "value", "", "property value")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a request, its history and your allowed moves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				r, allowed, err := rt.Engine.GetRequest(ctx, u, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": r, "allowedTransitions": allowed})
				}
				fmt.Printf("%s [%s] %s, project %s\n", r.Name, r.Type, r.Status, r.ProjectName)
				tw := newTable()
				tw.AppendHeader(table.Row{"When", "Action", "By", "Role", "Notes"})
				for _, h := range r.History {
					tw.AppendRow(table.Row{h.Timestamp, h.Action, h.By, h.Role, h.Notes})
				}
				tw.Render()
				if len(allowed) > 0 {
					moves := make([]string, len(allowed))
					for i, s := range allowed {
						moves[i] = string(s)
					}
					fmt.Println("Allowed:", strings.Join(moves, ", "))
				}
				return nil
			})
		},
	}
}

func requestTransitionCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "transition ID STATUS",
		Short: "Move a request to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				r, err := rt.Engine.TransitionRequest(ctx, u, args[0], domain.RequestStatus(args[1]), note)
				if err != nil {
					return err
				}
				return printResult(rt, r)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "finance note or rejection reason")
	return cmd
}

func requestCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment ID TEXT",
		Short: "Comment on a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				c, err := rt.Engine.AddRequestComment(ctx, u, args[0], args[1])
				if err != nil {
					return err
				}
				return printResult(rt, c)
			})
		},
	}
}

func requestImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE.csv",
		Short: "Bulk submit requests from a CSV sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readSheet(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				report, err := rt.Engine.BulkImportRequests(ctx, u, rows)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					warnPersist(rt)
					return printJSON(report)
				}
				fmt.Printf("Imported %d requests, skipped %d rows\n", len(report.Created), len(report.Skipped))
				printSkipped(report.Skipped)
				warnPersist(rt)
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage accounts"}
	usr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				items, err := rt.Engine.ListUsers(ctx, u)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.Email, it.Role})
				}
				tw.Render()
				return nil
			})
		},
	})
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				if err := rt.Engine.DeleteUser(ctx, u, args[0]); err != nil {
					return err
				}
				warnPersist(rt)
				fmt.Printf("Deleted user %s\n", args[0])
				return nil
			})
		},
	})
	usr.AddCommand(&cobra.Command{
		Use:   "set-role ID ROLE",
		Short: "Change an account's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				updated, err := rt.Engine.SetUserRole(ctx, u, args[0], role)
				if err != nil {
					return err
				}
				return printResult(rt, updated)
			})
		},
	})
	return usr
}

func userCreateCmd() *cobra.Command {
	var in engine.NewUser
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "" {
				r, err := domain.ParseRole(role)
				if err != nil {
					return err
				}
				in.Role = r
			}
			return withSession(cmd.Context(), func(ctx context.Context, rt *app.Runtime, u domain.User) error {
				created, err := rt.Engine.CreateUser(ctx, u, in)
				if err != nil {
					return err
				}
				return printResult(rt, created)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "new-email", "", "account email")
	cmd.Flags().StringVar(&role, "role", "", "role (default PR_OFFICER)")
	cmd.Flags().StringVar(&in.Password, "new-password", "", "initial password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("new-email")
	_ = cmd.MarkFlagRequired("new-password")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Activity journal",
		Long:  "Every saved change with the action that caused it, newest first.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Repo == nil {
				return errors.New("the activity journal is kept by the sqlite backend only")
			}
			events, err := rt.Repo.LatestEvents(cmd.Context(), n, f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
			for _, e := range events {
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, strings.TrimSuffix(e.EntityKind+":"+e.EntityID, ":"), e.ActorID})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DAR_JWT_SECRET is required for bearer auth")
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if !cmd.Flags().Changed("addr") && rt.Config.Server.Addr != "" {
				addr = rt.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && rt.Config.Server.BasePath != "" {
				basePath = rt.Config.Server.BasePath
			}
			cfg := server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, TokenTTL: rt.Config.TokenTTL(), Logger: logger},
			}
			if rt.Repo != nil {
				cfg.Events = rt.Repo
			}
			handler, err := server.New(cfg)
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving", "url", "http://"+addr+basePath, "docs", "/docs")
			fmt.Printf("Serving console API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func openRuntime(ctx context.Context) (*app.Runtime, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		DSN:        viper.GetString("dsn"),
		Logger:     logger,
	})
}

// withSession opens the store and signs in with the configured credentials.
func withSession(ctx context.Context, fn func(context.Context, *app.Runtime, domain.User) error) error {
	email := viper.GetString("email")
	if email == "" {
		return errors.New("sign in with --email and --password (or DAR_EMAIL and DAR_PASSWORD)")
	}
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	u, err := rt.Engine.Login(ctx, email, viper.GetString("password"))
	if err != nil {
		return err
	}
	logger.Debug("signed in", "user", u.Email, "role", u.Role)
	return fn(ctx, rt, u)
}

// readSheet reads a CSV export whose first row holds the column headers.
func readSheet(path string) ([]engine.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s is empty", path)
		}
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	var rows []engine.RawRow
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := engine.RawRow{}
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func printSkipped(skipped []engine.RowError) {
	if len(skipped) == 0 {
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Row", "Reason"})
	for _, s := range skipped {
		tw.AppendRow(table.Row{s.Row, s.Reason})
	}
	tw.Render()
}

func warnPersist(rt *app.Runtime) {
	if err := rt.Engine.PersistError(); err != nil {
		logger.Warn("change kept in memory only", "err", err)
	}
}

func printResult(rt *app.Runtime, v any) error {
	warnPersist(rt)
	return printJSONOrTable(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.WarnLevel
	}
	return lvl
}
