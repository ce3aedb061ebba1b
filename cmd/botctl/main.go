// botctl 管理工具：账号、目标群组、号段与当日记录的运维入口
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"otp_bot/internal/app"
	"otp_bot/internal/config"
	"otp_bot/internal/logger"
	"otp_bot/internal/relay/service"
)

const usage = `Usage: botctl <command> [flags]

Accounts:
  add-account      -name NAME -email EMAIL -password PASSWORD
  remove-account   -name NAME
  list-accounts
  enable-account   -name NAME
  disable-account  -name NAME
  balances

Destinations:
  add-group        -chat-id ID [-name NAME]
  remove-group     -chat-id ID
  list-groups
  enable-group     -chat-id ID
  disable-group    -chat-id ID

Ranges:
  add-range        -label LABEL -count N
  list-ranges
  quota            -label LABEL
  sync-ranges      [-label LABEL]

Records:
  stats            [-day YYYY-MM-DD]
  clear-store      [-day YYYY-MM-DD]

Runtime:
  enable-fetch
  disable-fetch
  fetch-status
`

func main() {
	logger.Init()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("加载配置失败: %v", err)
	}

	core, err := app.NewCore(cfg)
	if err != nil {
		fatal("初始化失败: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	defer core.Close(context.Background())

	command := os.Args[1]
	args := os.Args[2:]

	if err := runCommand(ctx, core, command, args); err != nil {
		fatal("%v", err)
	}
}

func runCommand(ctx context.Context, core *app.Core, command string, args []string) error {
	switch command {
	case "add-account":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		name := fs.String("name", "", "账号名")
		email := fs.String("email", "", "登录邮箱")
		password := fs.String("password", "", "登录密码")
		fs.Parse(args)
		if err := core.Accounts.AddAccount(ctx, *name, *email, *password); err != nil {
			return err
		}
		fmt.Printf("account %s saved\n", *name)

	case "remove-account":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		name := fs.String("name", "", "账号名")
		fs.Parse(args)
		if err := core.Accounts.RemoveAccount(ctx, *name); err != nil {
			return err
		}
		fmt.Printf("account %s removed\n", *name)

	case "list-accounts":
		accounts, err := core.Accounts.ListAccounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("no accounts")
			return nil
		}
		for _, account := range accounts {
			state := "disabled"
			if account.Enabled {
				state = "enabled"
			}
			cursor := account.Cursor
			if cursor == "" {
				cursor = "-"
			}
			fmt.Printf("%-16s %-28s %-8s cursor=%s\n", account.Name, account.Email, state, cursor)
		}

	case "enable-account", "disable-account":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		name := fs.String("name", "", "账号名")
		fs.Parse(args)
		enabled := command == "enable-account"
		if err := core.Accounts.SetEnabled(ctx, *name, enabled); err != nil {
			return err
		}
		fmt.Printf("account %s enabled=%v\n", *name, enabled)

	case "balances":
		balances, err := core.Accounts.Balances(ctx)
		if err != nil {
			return err
		}
		if len(balances) == 0 {
			fmt.Println("no balances available")
			return nil
		}
		names := make([]string, 0, len(balances))
		for name := range balances {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-16s %.2f\n", name, balances[name])
		}

	case "add-group":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		chatID := fs.Int64("chat-id", 0, "Telegram 群组 ID")
		name := fs.String("name", "", "备注名")
		fs.Parse(args)
		if err := core.Destinations.AddDestination(ctx, *name, *chatID); err != nil {
			return err
		}
		fmt.Printf("group %d saved\n", *chatID)

	case "remove-group":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		chatID := fs.Int64("chat-id", 0, "Telegram 群组 ID")
		fs.Parse(args)
		if err := core.Destinations.RemoveDestination(ctx, *chatID); err != nil {
			return err
		}
		fmt.Printf("group %d removed\n", *chatID)

	case "list-groups":
		destinations, err := core.Destinations.ListDestinations(ctx)
		if err != nil {
			return err
		}
		if len(destinations) == 0 {
			fmt.Println("no groups")
			return nil
		}
		for _, destination := range destinations {
			state := "disabled"
			if destination.Enabled {
				state = "enabled"
			}
			fmt.Printf("%-16d %-24s %s\n", destination.ChatID, destination.Name, state)
		}

	case "enable-group", "disable-group":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		chatID := fs.Int64("chat-id", 0, "Telegram 群组 ID")
		fs.Parse(args)
		enabled := command == "enable-group"
		if err := core.Destinations.SetEnabled(ctx, *chatID, enabled); err != nil {
			return err
		}
		fmt.Printf("group %d enabled=%v\n", *chatID, enabled)

	case "add-range":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		label := fs.String("label", "", "号段标签")
		count := fs.Int("count", 0, "申请数量")
		fs.Parse(args)
		numberRange, err := core.Ranges.AddRange(ctx, *label, *count)
		if err != nil {
			if service.IsQuotaError(err) {
				return fmt.Errorf("配额不足: %v", err)
			}
			return err
		}
		fmt.Printf("range %s: requested_total=%d available=%d\n",
			numberRange.Label, numberRange.RequestedTotal, numberRange.AvailableCount)

	case "list-ranges":
		ranges, err := core.Ranges.List(ctx)
		if err != nil {
			return err
		}
		if len(ranges) == 0 {
			fmt.Println("no ranges")
			return nil
		}
		for _, numberRange := range ranges {
			synced := "-"
			if !numberRange.LastSyncedAt.IsZero() {
				synced = numberRange.LastSyncedAt.Format(time.RFC3339)
			}
			fmt.Printf("%-12s requested=%-5d available=%-5d pending_chunks=%-2d last_sync=%s\n",
				numberRange.Label, numberRange.RequestedTotal, numberRange.AvailableCount,
				len(numberRange.PendingChunks), synced)
		}

	case "quota":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		label := fs.String("label", "", "号段标签")
		fs.Parse(args)
		remaining, err := core.Ranges.RemainingQuota(ctx, *label)
		if err != nil {
			return err
		}
		fmt.Printf("range %s: remaining quota %d\n", *label, remaining)

	case "sync-ranges":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		label := fs.String("label", "", "只同步指定号段")
		fs.Parse(args)
		if *label != "" {
			numberRange, err := core.Ranges.Sync(ctx, *label)
			if err != nil && !service.IsPartialSyncError(err) {
				return err
			}
			if service.IsPartialSyncError(err) {
				fmt.Printf("warning: %v\n", err)
			}
			fmt.Printf("range %s: available=%d\n", numberRange.Label, numberRange.AvailableCount)
			return nil
		}
		if err := core.Ranges.SyncAll(ctx); err != nil {
			return err
		}
		fmt.Println("all ranges synced")

	case "stats":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		day := fs.String("day", "", "统计日期（默认今天）")
		fs.Parse(args)
		stats, err := core.Stats.DayStats(ctx, *day)
		if err != nil {
			return err
		}
		fmt.Printf("day %s: messages=%d deliveries=%d unique_numbers=%d\n",
			stats.Day, stats.MessagesSent, stats.Deliveries, stats.UniqueNumbers)
		services := make([]string, 0, len(stats.ByService))
		for name := range stats.ByService {
			services = append(services, name)
		}
		sort.Strings(services)
		for _, name := range services {
			fmt.Printf("  %-16s %d\n", name, stats.ByService[name])
		}

	case "clear-store":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		day := fs.String("day", "", "只清指定日期（默认全部）")
		fs.Parse(args)
		if err := core.Store.Clear(ctx, *day); err != nil {
			return err
		}
		if *day == "" {
			fmt.Println("store cleared")
		} else {
			fmt.Printf("store cleared for %s\n", *day)
		}

	case "enable-fetch", "disable-fetch":
		enabled := command == "enable-fetch"
		if err := core.SettingsRepo.SetFetchEnabled(ctx, enabled); err != nil {
			return err
		}
		// 守护进程每个 tick 读取开关，无需重启
		fmt.Printf("fetch enabled=%v\n", enabled)

	case "fetch-status":
		settings, err := core.SettingsRepo.Get(ctx)
		if err != nil {
			return err
		}
		if settings == nil {
			fmt.Printf("fetch enabled=%v (default, no override stored)\n", core.Config.Relay.FetchEnabled)
			return nil
		}
		fmt.Printf("fetch enabled=%v (updated %s)\n", settings.FetchEnabled, settings.UpdatedAt.Format(time.RFC3339))

	case "help", "-h", "--help":
		fmt.Print(usage)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command: %s", command)
	}

	return nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
