// Package processor turns annotated entry points into generated loaders.
//
// An entry point is a top-level function in package main whose doc comment
// carries the @annoboot.Main annotation. Each of its parameters is preceded by
// a resource annotation that names the builder that provisions it:
//
//    // @annoboot.Main(log_level = "info")
//    func app(
//        // @resources.Postgres(conn_string = "postgres://{secrets.PG_USER}@localhost/app", max_open_conns = 10)
//        db *sqlx.DB,
//    ) (runtime.HTTPService, error)
//
// Processing happens in two steps. NewLoader reads the declaration into a
// Loader, which is the model of the bootstrap routine. It validates the shape
// of the function and removes the annotations from the source as it goes.
// GenerateLoader then renders the model as Go code using gopoet:
//
//    func loader(ctx context.Context, factory runtime.Factory, resourceTracker *runtime.ResourceTracker, logger runtime.Logger) (service runtime.HTTPService, err error) {
//        logLevel := runtime.InfoLevel
//        if logLevel < runtime.DebugLevel {
//            logLevel = runtime.DebugLevel
//        }
//        filterLayer := runtime.NewEnvFilter().AddDirective(logLevel)
//        zap.ReplaceGlobals(zap.New(filterLayer.Wrap(logger)))
//
//        vars, err := runtime.SecretVars(factory.GetSecrets(ctx))
//        ...
//        dbConnString, err := runtime.Strfmt("postgres://{secrets.PG_USER}@localhost/app", vars)
//        ...
//        db, err := runtime.GetResource(ctx, resources.NewPostgres().ConnString(dbConnString).MaxOpenConns(10), factory, resourceTracker)
//        if err != nil {
//            return service, errors.Wrapf(err, "failed to provision %s", "resources.Postgres")
//        }
//
//        return app(db)
//    }
//
// Builder types and their setters are never resolved here. The compiler checks
// them when the generated code is built.
//
// Processor Invocation
//
// The Processor type is a function that is invoked once per package, with a
// Context that gives access to the package's parsed sources. GenerateLoaders is
// the processor that produces loaders. Processors can be registered with
// RegisterProcessor, so that command-line tools can run all of them.
//
// Config loads the packages to process with golang.org/x/tools/go/packages,
// with the annoboot build tag set, and invokes the processors. ProcessFile does
// the same for a single parsed file without writing anything, which is mostly
// useful in tests.
//
// Diagnostics
//
// Problems in source are reported as *ErrorWithPosition values, each with a
// Kind that can be matched with errors.Is. Problems with individual parameters
// are accumulated, so that one run reports all of them. An entry point with
// any problem produces no output.
package processor
