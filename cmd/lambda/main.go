package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"

	"github.com/fileinsights/uploads/internal/api"
	"github.com/fileinsights/uploads/internal/auth"
	"github.com/fileinsights/uploads/internal/config"
	"github.com/fileinsights/uploads/internal/metadata"
	"github.com/fileinsights/uploads/internal/notify"
	"github.com/fileinsights/uploads/internal/storage"
	"github.com/fileinsights/uploads/internal/upload"
)

// Global router initialized once per container
var router *chi.Mux

// Init initializes the AWS clients and services
func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	gateway := storage.NewS3Gateway(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.PresignTTL, logger)
	store := metadata.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.UploadsTable)

	var notifier upload.Notifier
	if cfg.QueueURL != "" {
		notifier = notify.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	manager := upload.NewManager(gateway, store, notifier, cfg.Limits, logger)
	router = api.NewRouter(api.NewHandlers(manager, logger), logger)

	logger.Info("services initialized", "bucket", cfg.Bucket, "table", cfg.UploadsTable)
}

// lambdaHandler adapts API Gateway events to the chi router
func lambdaHandler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	httpReq, err := createHTTPRequest(ctx, req)
	if err != nil {
		log.Printf("Error creating HTTP request: %v", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       "Internal server error",
		}, nil
	}

	// Take the owner identity from the REQUEST authorizer context when
	// the gateway already resolved it; the bearer-token middleware covers
	// direct invocations.
	if req.RequestContext.Authorizer != nil {
		if owner, exists := req.RequestContext.Authorizer["owner"].(string); exists && owner != "" {
			httpReq = httpReq.WithContext(auth.WithOwner(httpReq.Context(), owner))
		}
	}

	respRecorder := newResponseRecorder()
	router.ServeHTTP(respRecorder, httpReq)

	headers := make(map[string]string, len(respRecorder.header))
	for key := range respRecorder.header {
		headers[key] = respRecorder.header.Get(key)
	}

	return events.APIGatewayProxyResponse{
		StatusCode: respRecorder.statusCode,
		Headers:    headers,
		Body:       string(respRecorder.body),
	}, nil
}

// createHTTPRequest creates an http.Request from an API Gateway event
func createHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	// Determine the full request path
	path := req.Path
	for param, value := range req.PathParameters {
		path = strings.Replace(path, "{"+param+"}", value, -1)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, path, body)
	if err != nil {
		return nil, err
	}

	// Add query parameters
	if req.QueryStringParameters != nil {
		query := httpReq.URL.Query()
		for param, value := range req.QueryStringParameters {
			query.Add(param, value)
		}
		httpReq.URL.RawQuery = query.Encode()
	}

	// Add headers
	for key, value := range req.Headers {
		httpReq.Header.Add(key, value)
	}

	return httpReq, nil
}

// responseRecorder captures the router's HTTP response
type responseRecorder struct {
	header     http.Header
	body       []byte
	statusCode int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     make(http.Header),
		statusCode: http.StatusOK, // Default status
	}
}

// Header implements the http.ResponseWriter interface
func (r *responseRecorder) Header() http.Header {
	return r.header
}

// Write implements the http.ResponseWriter interface
func (r *responseRecorder) Write(body []byte) (int, error) {
	r.body = append(r.body, body...)
	return len(body), nil
}

// WriteHeader implements the http.ResponseWriter interface
func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
}

func main() {
	lambda.Start(lambdaHandler)
}
