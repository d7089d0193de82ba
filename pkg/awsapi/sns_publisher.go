/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package awsapi

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSPublisher adapts SNSAPI to activity.Publisher, publishing every
// report to one fixed topic ARN.
type SNSPublisher struct {
	Client   SNSAPI
	TopicARN string
}

// Publish sends subject/body as one SNS notification.
func (p *SNSPublisher) Publish(ctx context.Context, subject, body string) error {
	_, err := p.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.TopicARN),
		Subject:  aws.String(truncateSubject(subject)),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("awsapi: publishing to %s: %w", p.TopicARN, err)
	}
	return nil
}

// truncateSubject enforces SNS's 100-character subject limit.
func truncateSubject(s string) string {
	const max = 100
	if len(s) <= max {
		return s
	}
	return s[:max]
}
