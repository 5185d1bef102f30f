package scheduler

// Version is the weft release version, reported by the MCP server and the
// version subcommand.
const Version = "0.1.0"
