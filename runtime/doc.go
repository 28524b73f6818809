// Package runtime is the support library for generated loaders.
//
// A loader is generated from a function annotated with @annoboot.Main. It
// installs logging, reads secrets, provisions every annotated resource with
// GetResource, and finally calls the annotated function. The generated main
// function hands the loader to Start:
//
//    func main() {
//        runtime.Start(loader)
//    }
//
// Start parses the command line and calls Run, which creates a LocalFactory,
// a console log sink and a ResourceTracker, invokes the loader and serves the
// result when it is a Service.
//
// Resource kinds are implemented as builders. A builder is created by a
// constructor, configured with chained setters and then turned into a value
// with its Output method. The package github.com/jhump/annoboot/resources has
// builders for Postgres, Redis and secrets.
//
// Logging
//
// Generated loaders install a zap logger that writes to the Logger sink,
// filtered by an EnvFilter. The filter starts from the level of the entry
// point's annotation. The ANNOBOOT_LOG environment variable can raise or lower
// the level of individual named loggers:
//
//    ANNOBOOT_LOG=db=debug,cache=warn
package runtime
