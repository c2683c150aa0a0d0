package cli

import "fmt"

func PrintExtendedHelp() {
	fmt.Println("ChronoSage - natural-language calendar assistant")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  chronosage [flags]                 Start the HTTP API server")
	fmt.Println("  chronosage -cli [-m <request>]     Schedule one request or start interactive mode")
	fmt.Println("  chronosage <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                       Start the HTTP API server")
	fmt.Println("  schedule <request>          Create an event from a request")
	fmt.Println("  edit <request>              Reschedule, rename, or cancel an event")
	fmt.Println("  upcoming                    List upcoming events")
	fmt.Println("  suggest [flags]             Suggest meeting times for attendees")
	fmt.Println("  export [flags] <request>    Write a request as an .ics file")
	fmt.Println("  history [-limit n]          Show recent assistant activity")
	fmt.Println("  batch -i <file>             Schedule every request in a file")
	fmt.Println("  auth [status]               Authorise Google Calendar access")
	fmt.Println("  config <init|path|show|get> Manage configuration")
	fmt.Println("  version                     Print the version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config <path>   Path to config file")
	fmt.Println("  -data <dir>      Path to data directory")
	fmt.Println("  -debug           Development logging")
}

func PrintSuggestHelp() {
	fmt.Println("Usage: chronosage suggest [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -attendees <list>  Comma-separated attendee emails")
	fmt.Println("  -from <date>       First day to search, YYYY-MM-DD (default today)")
	fmt.Println("  -to <date>         Last day to search, YYYY-MM-DD (default -from)")
	fmt.Println("  -duration <min>    Meeting length in minutes (default from config)")
	fmt.Println("  -ranked            Order by confidence instead of time")
}

func PrintExportHelp() {
	fmt.Println("Usage: chronosage export [flags] <request>")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -o <file>          Output file (default: stdout)")
	fmt.Println("  -location <text>   Event location")
	fmt.Println("  -organizer <email> Organizer address")
	fmt.Println("  -category <name>   Category")
	fmt.Println("  -reminder <min>    Reminder minutes before start (default 15)")
}

func PrintBatchHelp() {
	fmt.Println("Usage: chronosage batch -i <input_file> [-o <output_file>] [flags]")
	fmt.Println()
	fmt.Println("Input is one request per line (# starts a comment), or JSON lines")
	fmt.Println(`of the form {"id": "...", "request": "..."} when the file ends in .json or .jsonl.`)
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -i, --input <file>        Input file (required)")
	fmt.Println("  -o, --output <file>       Write results (.json for JSON, anything else for text)")
	fmt.Println("  -c, --concurrency <n>     Parallel requests (default 3)")
	fmt.Println("  -t, --timeout <seconds>   Per-request timeout (default 60)")
	fmt.Println("  -r, --retries <n>         Retries for transient failures (default 2)")
}

func PrintConfigHelp() {
	fmt.Println("Usage: chronosage config <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init          Write a config file with the current settings")
	fmt.Println("  path          Print the config file location")
	fmt.Println("  show          Print the effective configuration (secrets masked)")
	fmt.Println("  get <key>     Print one setting, e.g. app.timezone")
}

func PrintAuthHelp() {
	fmt.Println("Usage: chronosage auth [status]")
	fmt.Println()
	fmt.Println("Without arguments, prints the Google consent URL and waits for the")
	fmt.Println("authorisation code. The token is saved next to the credentials file.")
}
