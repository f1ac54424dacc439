// Package scheduling runs experiments on a cron schedule.
//
// The experiment list comes from the settings script (sandbox/main.lua),
// evaluated like any other untrusted script. It must return a table:
//
//	return {
//	  experiments = {
//	    { name = "dns", schedule = "@every 30s", script = "dns.lua", max_runs = 10 },
//	  },
//	}
//
// Each experiment fires in a pooled session. A run that fails counts
// towards max_failures; once that many failures happen in a row the
// experiment is quarantined and never fires again. Run returns when every
// experiment has used up its runs or been quarantined, or when the
// context ends.
package scheduling
