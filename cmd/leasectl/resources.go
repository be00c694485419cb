package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	leasing "github.com/equipcloud/leasing-go"
)

// ============================================================================
// Shared list plumbing
// ============================================================================

type listFlags struct {
	page     int
	pageSize int
	order    string
	orderBy  string
	filters  []string
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.page, "page", 0, "page number")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "items per page")
	cmd.Flags().StringVar(&f.order, "order", "", "sort direction (asc|desc)")
	cmd.Flags().StringVar(&f.orderBy, "order-by", "", "sort field")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "field=value filter (repeatable)")
}

func (f *listFlags) options() (leasing.ListOptions, error) {
	opts := leasing.ListOptions{
		Page:     f.page,
		PageSize: f.pageSize,
		Order:    f.order,
		OrderBy:  f.orderBy,
	}
	if opts.PageSize == 0 {
		opts.PageSize = defaultPageSize()
	}
	for _, raw := range f.filters {
		k, v, ok := strings.Cut(raw, "=")
		if !ok || k == "" {
			return opts, fmt.Errorf("filter must be field=value, got %q", raw)
		}
		if opts.Filters == nil {
			opts.Filters = make(map[string]string)
		}
		opts.Filters[k] = v
	}
	return opts, nil
}

// when renders a server timestamp as a relative time when parseable.
func when(s string) string {
	if s == "" {
		return "-"
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return humanize.Time(t)
		}
	}
	return s
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("id must be a positive integer, got %q", arg)
	}
	return id, nil
}

// listPage is the cached list fetch every collection command goes through.
func listPage[T any](ctx context.Context, console *leasing.Console, resource, path string, opts leasing.ListOptions,
	fn func(ctx context.Context, opts leasing.ListOptions, token string) (*leasing.Page[T], error)) (*leasing.Page[T], error) {
	return leasing.FetchQuery(ctx, console, resource, path, opts.CacheOptions(), leasing.QueryConfig{},
		func(ctx context.Context, token string) (*leasing.Page[T], error) {
			return fn(ctx, opts, token)
		})
}

func printTotal(shown, total int) {
	fmt.Printf("%d of %d\n", shown, total)
}

// ============================================================================
// Users
// ============================================================================

var usersListFlags listFlags

func init() {
	usersListFlags.register(usersListCmd)
	usersUpdateCmd.Flags().StringArrayVar(&usersUpdateSets, "set", nil, "field to change, as name=value (repeatable)")
	usersCmd.AddCommand(usersListCmd, usersGetCmd, usersUpdateCmd, usersRmCmd)
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Browse and manage users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		opts, err := usersListFlags.options()
		if err != nil {
			return err
		}
		page, err := listPage(cmd.Context(), console, leasing.ResourceUsers, "/users", opts,
			console.Client().Users.List)
		if err != nil {
			return err
		}

		table := uitable.New()
		table.AddRow("ID", "USERNAME", "EMAIL", "ROLE", "CONFIRMED")
		for _, u := range page.Items {
			table.AddRow(u.ID, u.Username, u.Email, u.Role, u.Confirmed)
		}
		fmt.Println(table)
		printTotal(len(page.Items), page.Total)
		return nil
	},
}

var usersGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		user, err := leasing.FetchQuery(cmd.Context(), console, leasing.ResourceUsers, "/users",
			map[string]any{"id": id}, leasing.QueryConfig{},
			func(ctx context.Context, token string) (*leasing.User, error) {
				return console.Client().Users.Get(ctx, id, token)
			})
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s> role=%s confirmed=%v\n", user.Username, user.Email, user.Role, user.Confirmed)
		if user.LabName != "" {
			fmt.Printf("lab: %s (%s)\n", user.LabName, user.LabLocation)
		}
		return nil
	},
}

var usersUpdateSets []string

var usersUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change user fields",
	Long:  "Change user fields, for example: leasectl users update 3 --set role=lender --set lab_name=Optics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if len(usersUpdateSets) == 0 {
			return fmt.Errorf("nothing to change, pass at least one --set name=value")
		}
		fields := map[string]any{}
		for _, s := range usersUpdateSets {
			name, value, ok := strings.Cut(s, "=")
			if !ok || name == "" {
				return fmt.Errorf("bad --set %q, want name=value", s)
			}
			fields[name] = value
		}

		detailKey := leasing.QueryKey{
			Resource: leasing.ResourceUsers,
			Options:  map[string]any{"id": id},
			Token:    console.Session().AuthToken(),
		}
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, fields map[string]any) (*leasing.User, error) {
				return console.Client().Users.Update(ctx, id, fields, console.Session().AuthToken())
			},
			leasing.MutationConfig[*leasing.User]{
				Invalidate: []leasing.KeyPrefix{{Resource: leasing.ResourceUsers}},
				Updates: func(u *leasing.User) []leasing.CacheWrite {
					return []leasing.CacheWrite{{Key: detailKey, Data: u}}
				},
			})
		user, err := mutation.Trigger(cmd.Context(), fields)
		if err != nil {
			return err
		}
		fmt.Printf("Updated user %d: %s role=%s\n", user.ID, user.Username, user.Role)
		return nil
	},
}

var usersRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, id int) (struct{}, error) {
				return struct{}{}, console.Client().Users.Delete(ctx, id, console.Session().AuthToken())
			},
			leasing.MutationConfig[struct{}]{
				Invalidate: []leasing.KeyPrefix{{Resource: leasing.ResourceUsers}},
			})
		if _, err := mutation.Trigger(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted user %d\n", id)
		return nil
	},
}

// ============================================================================
// Equipments
// ============================================================================

var equipmentsListFlags listFlags

func init() {
	equipmentsListFlags.register(equipmentsListCmd)
	equipmentsCmd.AddCommand(equipmentsListCmd, equipmentsGetCmd, equipmentsReturnCmd, equipmentsRmCmd)
	rootCmd.AddCommand(equipmentsCmd)
}

var equipmentsCmd = &cobra.Command{
	Use:   "equipments",
	Short: "Browse and manage equipments",
}

var equipmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List equipments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		opts, err := equipmentsListFlags.options()
		if err != nil {
			return err
		}
		page, err := listPage(cmd.Context(), console, leasing.ResourceEquipments, "/equipments", opts,
			console.Client().Equipments.List)
		if err != nil {
			return err
		}

		table := uitable.New()
		table.MaxColWidth = 40
		table.AddRow("ID", "NAME", "STATUS", "OWNER", "RETURN")
		for _, e := range page.Items {
			owner := "-"
			if e.Owner != nil {
				owner = e.Owner.Username
			}
			table.AddRow(e.ID, e.Name, e.Status, owner, when(e.ReturnTime))
		}
		fmt.Println(table)
		printTotal(len(page.Items), page.Total)
		return nil
	},
}

var equipmentsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one equipment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		eq, err := leasing.FetchQuery(cmd.Context(), console, leasing.ResourceEquipments, "/equipments",
			map[string]any{"id": id}, leasing.QueryConfig{},
			func(ctx context.Context, token string) (*leasing.Equipment, error) {
				return console.Client().Equipments.Get(ctx, id, token)
			})
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s]\n%s\n", eq.Name, eq.Status, eq.Usage)
		if eq.Owner != nil {
			fmt.Printf("owner: %s (%s)\n", eq.Owner.Username, eq.Owner.LabName)
		}
		if eq.ReturnTime != "" {
			fmt.Printf("return due: %s\n", when(eq.ReturnTime))
		}
		return nil
	},
}

var equipmentsReturnCmd = &cobra.Command{
	Use:   "return <id>",
	Short: "Confirm a borrowed equipment as returned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		detailKey := leasing.QueryKey{
			Resource: leasing.ResourceEquipments,
			Options:  map[string]any{"id": id},
			Token:    console.Session().AuthToken(),
		}
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, id int) (*leasing.Equipment, error) {
				return console.Client().Equipments.Update(ctx, id,
					map[string]any{"confirmed_back": true}, console.Session().AuthToken())
			},
			leasing.MutationConfig[*leasing.Equipment]{
				Invalidate: []leasing.KeyPrefix{{Resource: leasing.ResourceEquipments}},
				Updates: func(eq *leasing.Equipment) []leasing.CacheWrite {
					return []leasing.CacheWrite{{Key: detailKey, Data: eq}}
				},
			})
		eq, err := mutation.Trigger(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Equipment %d marked returned, status now %s\n", eq.ID, eq.Status)
		return nil
	},
}

var equipmentsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an equipment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, id int) (struct{}, error) {
				return struct{}{}, console.Client().Equipments.Delete(ctx, id, console.Session().AuthToken())
			},
			leasing.MutationConfig[struct{}]{
				Invalidate: []leasing.KeyPrefix{{Resource: leasing.ResourceEquipments}},
			})
		if _, err := mutation.Trigger(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted equipment %d\n", id)
		return nil
	},
}

// ============================================================================
// Applications
// ============================================================================

var applicationsListFlags listFlags

var applicationsCreateFlags struct {
	labName     string
	labLocation string
	name        string
	usage       string
	equipment   int
	returnTime  string
}

func init() {
	applicationsListFlags.register(applicationsListCmd)
	f := applicationsCreateCmd.Flags()
	f.StringVar(&applicationsCreateFlags.labName, "lab-name", "", "lab name (lender)")
	f.StringVar(&applicationsCreateFlags.labLocation, "lab-location", "", "lab location (lender)")
	f.StringVar(&applicationsCreateFlags.name, "name", "", "equipment name (puton)")
	f.StringVar(&applicationsCreateFlags.usage, "usage", "", "intended usage (puton, borrow)")
	f.IntVar(&applicationsCreateFlags.equipment, "equipment", 0, "equipment id (borrow, optionally puton)")
	f.StringVar(&applicationsCreateFlags.returnTime, "return-time", "", "promised return time (borrow)")
	applicationsCmd.AddCommand(applicationsListCmd, applicationsGetCmd, applicationsCreateCmd, applicationsReviewCmd)
	rootCmd.AddCommand(applicationsCmd)
}

func kindFromArg(arg string) (leasing.ApplicationKind, error) {
	switch arg {
	case "lender":
		return leasing.KindLender, nil
	case "puton":
		return leasing.KindPutOn, nil
	case "borrow":
		return leasing.KindBorrow, nil
	}
	return "", fmt.Errorf("kind must be lender, puton, or borrow, got %q", arg)
}

var applicationsCmd = &cobra.Command{
	Use:   "applications",
	Short: "Browse and review applications",
	Long:  "Browse and review the three application kinds: lender, puton, borrow.",
}

var applicationsListCmd = &cobra.Command{
	Use:   "list <lender|puton|borrow>",
	Short: "List applications of one kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		kind, err := kindFromArg(args[0])
		if err != nil {
			return err
		}
		opts, err := applicationsListFlags.options()
		if err != nil {
			return err
		}

		table := uitable.New()
		table.MaxColWidth = 36
		switch kind {
		case leasing.KindLender:
			page, err := listPage(cmd.Context(), console, kind.Resource(), "/applications/lender", opts,
				console.Client().Lender.List)
			if err != nil {
				return err
			}
			table.AddRow("ID", "CANDIDATE", "LAB", "STATUS", "APPLIED")
			for _, a := range page.Items {
				table.AddRow(a.ID, a.Candidate.Username, a.LabName, a.Status, when(a.ApplicationTime))
			}
			fmt.Println(table)
			printTotal(len(page.Items), page.Total)
		case leasing.KindPutOn:
			page, err := listPage(cmd.Context(), console, kind.Resource(), "/applications/puton", opts,
				console.Client().PutOn.List)
			if err != nil {
				return err
			}
			table.AddRow("ID", "EQUIPMENT", "CANDIDATE", "STATUS", "APPLIED")
			for _, a := range page.Items {
				table.AddRow(a.ID, a.EquipmentName, a.Candidate.Username, a.Status, when(a.ApplicationTime))
			}
			fmt.Println(table)
			printTotal(len(page.Items), page.Total)
		case leasing.KindBorrow:
			page, err := listPage(cmd.Context(), console, kind.Resource(), "/applications/borrow", opts,
				console.Client().Borrow.List)
			if err != nil {
				return err
			}
			table.AddRow("ID", "EQUIPMENT", "CANDIDATE", "STATUS", "APPLIED")
			for _, a := range page.Items {
				table.AddRow(a.ID, a.EquipmentName, a.Candidate.Username, a.Status, when(a.ApplicationTime))
			}
			fmt.Println(table)
			printTotal(len(page.Items), page.Total)
		}
		return nil
	},
}

var applicationsGetCmd = &cobra.Command{
	Use:   "get <lender|puton|borrow> <id>",
	Short: "Show one application",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		kind, err := kindFromArg(args[0])
		if err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}

		printReview := func(status leasing.ReviewStatus, applied, reviewed string) {
			fmt.Printf("status: %s\napplied: %s\n", status, when(applied))
			if status.Terminal() {
				fmt.Printf("reviewed: %s\n", when(reviewed))
			}
		}
		switch kind {
		case leasing.KindLender:
			app, err := leasing.FetchQuery(cmd.Context(), console, kind.Resource(), "/applications/lender",
				map[string]any{"id": id}, leasing.QueryConfig{},
				func(ctx context.Context, token string) (*leasing.LenderApplication, error) {
					return console.Client().Lender.Get(ctx, id, token)
				})
			if err != nil {
				return err
			}
			fmt.Printf("lender application %d by %s\nlab: %s (%s)\n",
				app.ID, app.Candidate.Username, app.LabName, app.LabLocation)
			printReview(app.Status, app.ApplicationTime, app.ReviewTime)
		case leasing.KindPutOn:
			app, err := leasing.FetchQuery(cmd.Context(), console, kind.Resource(), "/applications/puton",
				map[string]any{"id": id}, leasing.QueryConfig{},
				func(ctx context.Context, token string) (*leasing.PutOnApplication, error) {
					return console.Client().PutOn.Get(ctx, id, token)
				})
			if err != nil {
				return err
			}
			fmt.Printf("puton application %d by %s\nequipment: %s\n%s\n",
				app.ID, app.Candidate.Username, app.EquipmentName, app.Usage)
			printReview(app.Status, app.ApplicationTime, app.ReviewTime)
		case leasing.KindBorrow:
			app, err := leasing.FetchQuery(cmd.Context(), console, kind.Resource(), "/applications/borrow",
				map[string]any{"id": id}, leasing.QueryConfig{},
				func(ctx context.Context, token string) (*leasing.BorrowApplication, error) {
					return console.Client().Borrow.Get(ctx, id, token)
				})
			if err != nil {
				return err
			}
			fmt.Printf("borrow application %d by %s\nequipment: %s\n%s\n",
				app.ID, app.Candidate.Username, app.EquipmentName, app.Usage)
			printReview(app.Status, app.ApplicationTime, app.ReviewTime)
		}
		return nil
	},
}

var applicationsCreateCmd = &cobra.Command{
	Use:   "create <lender|puton|borrow>",
	Short: "Submit a new application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		kind, err := kindFromArg(args[0])
		if err != nil {
			return err
		}
		flags := &applicationsCreateFlags

		fields := map[string]any{}
		switch kind {
		case leasing.KindLender:
			if flags.labName == "" || flags.labLocation == "" {
				return fmt.Errorf("lender applications need --lab-name and --lab-location")
			}
			fields["lab_name"] = flags.labName
			fields["lab_location"] = flags.labLocation
		case leasing.KindPutOn:
			if flags.name == "" || flags.usage == "" {
				return fmt.Errorf("puton applications need --name and --usage")
			}
			fields["name"] = flags.name
			fields["usage"] = flags.usage
			if flags.equipment != 0 {
				fields["equipment_id"] = flags.equipment
			}
		case leasing.KindBorrow:
			if flags.equipment == 0 || flags.usage == "" || flags.returnTime == "" {
				return fmt.Errorf("borrow applications need --equipment, --usage and --return-time")
			}
			fields["equipment_id"] = flags.equipment
			fields["usage"] = flags.usage
			fields["return_time"] = flags.returnTime
		}

		id, err := createApplication(cmd.Context(), console, kind, fields)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s application %d\n", kind, id)
		return nil
	},
}

// createApplication submits the fields through the kind's sub-client and
// invalidates that kind's cached lists so the next listing shows it.
func createApplication(ctx context.Context, console *leasing.Console, kind leasing.ApplicationKind, fields map[string]any) (int, error) {
	invalidate := []leasing.KeyPrefix{{Resource: kind.Resource()}}
	token := console.Session().AuthToken()
	switch kind {
	case leasing.KindLender:
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, fields map[string]any) (*leasing.LenderApplication, error) {
				return console.Client().Lender.Create(ctx, fields, token)
			},
			leasing.MutationConfig[*leasing.LenderApplication]{Invalidate: invalidate})
		app, err := mutation.Trigger(ctx, fields)
		if err != nil {
			return 0, err
		}
		return app.ID, nil
	case leasing.KindPutOn:
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, fields map[string]any) (*leasing.PutOnApplication, error) {
				return console.Client().PutOn.Create(ctx, fields, token)
			},
			leasing.MutationConfig[*leasing.PutOnApplication]{Invalidate: invalidate})
		app, err := mutation.Trigger(ctx, fields)
		if err != nil {
			return 0, err
		}
		return app.ID, nil
	default:
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, fields map[string]any) (*leasing.BorrowApplication, error) {
				return console.Client().Borrow.Create(ctx, fields, token)
			},
			leasing.MutationConfig[*leasing.BorrowApplication]{Invalidate: invalidate})
		app, err := mutation.Trigger(ctx, fields)
		if err != nil {
			return 0, err
		}
		return app.ID, nil
	}
}

var applicationsReviewCmd = &cobra.Command{
	Use:   "review <lender|puton|borrow> <id> <agree|refuse>",
	Short: "Decide an application",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		kind, err := kindFromArg(args[0])
		if err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		decision := leasing.ReviewStatus(args[2])
		if err := console.Review(cmd.Context(), kind, id, decision); err != nil {
			return err
		}
		fmt.Printf("Application %d: %s\n", id, decision)
		return nil
	},
}

// ============================================================================
// Notifications
// ============================================================================

var notificationsListFlags listFlags

func init() {
	notificationsListFlags.register(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsRmCmd)
	rootCmd.AddCommand(notificationsCmd)
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Browse notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		opts, err := notificationsListFlags.options()
		if err != nil {
			return err
		}
		page, err := listPage(cmd.Context(), console, leasing.ResourceNotifications, "/notifications", opts,
			console.Client().Notifications.List)
		if err != nil {
			return err
		}

		table := uitable.New()
		table.MaxColWidth = 50
		table.AddRow("ID", "TYPE", "RESULT", "READ", "CONTENT")
		for _, n := range page.Items {
			table.AddRow(n.ID, n.Type, n.Result, n.IsRead, n.Content)
		}
		fmt.Println(table)
		printTotal(len(page.Items), page.Total)
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Show a notification and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, id int) (*leasing.Notification, error) {
				return console.Client().Notifications.MarkRead(ctx, id, console.Session().AuthToken())
			},
			leasing.MutationConfig[*leasing.Notification]{
				// The unread-count poll query must pick the change up.
				Invalidate: []leasing.KeyPrefix{{Resource: leasing.ResourceNotifications}},
			})
		n, err := mutation.Trigger(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("[%s] %s\n%s\n", n.Type, n.Result, n.Content)
		return nil
	},
}

var notificationsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		mutation := leasing.NewMutation(console.Cache(),
			func(ctx context.Context, id int) (struct{}, error) {
				return struct{}{}, console.Client().Notifications.Delete(ctx, id, console.Session().AuthToken())
			},
			leasing.MutationConfig[struct{}]{
				Invalidate: []leasing.KeyPrefix{{Resource: leasing.ResourceNotifications}},
			})
		if _, err := mutation.Trigger(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted notification %d\n", id)
		return nil
	},
}

// ============================================================================
// Logs and stats
// ============================================================================

var logsListFlags listFlags

func init() {
	logsListFlags.register(logsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(statCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List operation logs (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		opts, err := logsListFlags.options()
		if err != nil {
			return err
		}
		page, err := listPage(cmd.Context(), console, leasing.ResourceLogs, "/logs", opts,
			console.Client().Logs.List)
		if err != nil {
			return err
		}

		table := uitable.New()
		table.MaxColWidth = 60
		table.AddRow("ID", "TYPE", "WHEN", "CONTENT")
		for _, l := range page.Items {
			table.AddRow(l.ID, l.Type, when(l.LogTime), l.Content)
		}
		fmt.Println(table)
		printTotal(len(page.Items), page.Total)
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show dashboard counters (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		stat, err := leasing.FetchQuery(cmd.Context(), console, leasing.ResourceStat, "/stat",
			nil, leasing.QueryConfig{},
			func(ctx context.Context, token string) (*leasing.Stat, error) {
				return console.Client().Stat(ctx, token)
			})
		if err != nil {
			return err
		}

		table := uitable.New()
		table.AddRow("confirmed users", stat.ConfirmedUsers)
		table.AddRow("unconfirmed users", stat.UnconfirmedUsers)
		table.AddRow("normal users", stat.NormalUsers)
		table.AddRow("lender users", stat.LenderUsers)
		table.AddRow("idle equipments", stat.IdleEquipments)
		table.AddRow("leased equipments", stat.LeaseEquipments)
		table.AddRow("unreviewed equipments", stat.UnreviewedEquipments)
		table.AddRow("lender applications", stat.LenderApplications)
		table.AddRow("puton applications", stat.PutOnApplications)
		table.AddRow("borrow applications", stat.BorrowApplications)
		fmt.Println(table)

		if len(stat.BorrowLog) > 0 {
			fmt.Print("borrow trend:")
			for _, n := range stat.BorrowLog {
				fmt.Printf(" %d", n)
			}
			fmt.Println()
		}
		return nil
	},
}
